// Package notify turns participation events into in-app notification records and,
// when the recipient's preferences allow, a single batched push attempt.
package notify

// Kind identifies a notification type.
type Kind string

const (
	KindFriendRequest           Kind = "friend_request"
	KindFriendAccepted          Kind = "friend_accepted"
	KindFriendRejected          Kind = "friend_rejected"
	KindFriendNewActivity       Kind = "friend_new_activity"
	KindActivityJoinRequest     Kind = "activity_join_request"
	KindActivityJoinApproved    Kind = "activity_join_approved"
	KindActivityJoinRejected    Kind = "activity_join_rejected"
	KindActivityParticipantJoin Kind = "activity_participant_joined"
	KindActivityParticipantLeft Kind = "activity_participant_left"
	KindActivityComment         Kind = "activity_comment"
	KindActivityUpdate          Kind = "activity_update"
	KindActivityCancelled       Kind = "activity_cancelled"
	KindActivityReminder        Kind = "activity_reminder"
	KindActivityStartingSoon    Kind = "activity_starting_soon"
	KindNewActivityNearby       Kind = "new_activity_nearby"
	KindNewActivityInterest     Kind = "new_activity_interest"
	KindNewMessage              Kind = "new_message"
	KindSystem                  Kind = "system"
	KindPromotional             Kind = "promotional"
)

// Flag is a per-user preference switch gating push delivery for a group of kinds.
type Flag string

const (
	FlagFriendRequests          Flag = "friend_requests"
	FlagFriendRequestAccepted   Flag = "friend_request_accepted"
	FlagFriendNewActivity       Flag = "friend_new_activity"
	FlagActivityJoinRequest     Flag = "activity_join_request"
	FlagActivityParticipantLeft Flag = "activity_participant_left"
	FlagActivityComment         Flag = "activity_comment"
	FlagActivityUpdate          Flag = "activity_update"
	FlagActivityCancelled       Flag = "activity_cancelled"
	FlagActivityReminder        Flag = "activity_reminder"
	FlagNewActivitiesNearby     Flag = "new_activities_nearby"
	FlagNewActivitiesInterests  Flag = "new_activities_interests"
	FlagNewMessage              Flag = "new_message"
	FlagSystemUpdates           Flag = "system_updates"
	FlagPromotional             Flag = "promotional"
)

// AllFlags lists every preference flag in storage order.
var AllFlags = []Flag{
	FlagFriendRequests,
	FlagFriendRequestAccepted,
	FlagFriendNewActivity,
	FlagActivityJoinRequest,
	FlagActivityParticipantLeft,
	FlagActivityComment,
	FlagActivityUpdate,
	FlagActivityCancelled,
	FlagActivityReminder,
	FlagNewActivitiesNearby,
	FlagNewActivitiesInterests,
	FlagNewMessage,
	FlagSystemUpdates,
	FlagPromotional,
}

var kindFlags = map[Kind]Flag{
	KindFriendRequest:           FlagFriendRequests,
	KindFriendAccepted:          FlagFriendRequestAccepted,
	KindFriendRejected:          FlagFriendRequestAccepted,
	KindFriendNewActivity:       FlagFriendNewActivity,
	KindActivityJoinRequest:     FlagActivityJoinRequest,
	KindActivityJoinApproved:    FlagActivityUpdate,
	KindActivityJoinRejected:    FlagActivityUpdate,
	KindActivityParticipantJoin: FlagActivityJoinRequest,
	KindActivityParticipantLeft: FlagActivityParticipantLeft,
	KindActivityComment:         FlagActivityComment,
	KindActivityUpdate:          FlagActivityUpdate,
	KindActivityCancelled:       FlagActivityCancelled,
	KindActivityReminder:        FlagActivityReminder,
	KindActivityStartingSoon:    FlagActivityReminder,
	KindNewActivityNearby:       FlagNewActivitiesNearby,
	KindNewActivityInterest:     FlagNewActivitiesInterests,
	KindNewMessage:              FlagNewMessage,
	KindSystem:                  FlagSystemUpdates,
	KindPromotional:             FlagPromotional,
}

// FlagFor returns the preference flag gating kind. Unmapped kinds have none.
func FlagFor(k Kind) (Flag, bool) {
	f, ok := kindFlags[k]
	return f, ok
}

// ChannelFor returns the Android notification channel for kind.
func ChannelFor(k Kind) string {
	switch k {
	case KindFriendRequest, KindFriendAccepted, KindFriendRejected, KindFriendNewActivity:
		return "friends"
	case KindNewMessage:
		return "messages"
	case KindActivityUpdate, KindActivityCancelled, KindActivityReminder, KindActivityStartingSoon:
		return "activity-reminders"
	default:
		return "default"
	}
}

// IsActivityKind reports whether kind refers to an activity screen.
func IsActivityKind(k Kind) bool {
	switch k {
	case KindActivityJoinRequest, KindActivityJoinApproved, KindActivityJoinRejected,
		KindActivityParticipantJoin, KindActivityParticipantLeft, KindActivityComment,
		KindActivityUpdate, KindActivityCancelled, KindActivityReminder, KindActivityStartingSoon,
		KindFriendNewActivity, KindNewActivityNearby, KindNewActivityInterest:
		return true
	default:
		return false
	}
}
