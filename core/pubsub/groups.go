package pubsub

const (
	userGroupPrefix         = "user_"
	notificationGroupPrefix = "notifications_"
	roomGroupPrefix         = "room_"
)

// UserGroup is the personal chat group of a user.
func UserGroup(userID string) string { return userGroupPrefix + userID }

// NotificationGroup is the personal notification stream of a user.
func NotificationGroup(userID string) string { return notificationGroupPrefix + userID }

// RoomGroup is the group of a chat room. Room ids are word characters only.
func RoomGroup(room string) string { return roomGroupPrefix + room }
