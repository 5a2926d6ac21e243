package persistence

// RoomSnapshot stores the latest serialized state of a room.
type RoomSnapshot struct {
	RoomID           string `gorm:"column:room_id;primaryKey;size:190;not null"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	OperationCount   int64  `gorm:"column:operation_count;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (RoomSnapshot) TableName() string {
	return "room_snapshots"
}
