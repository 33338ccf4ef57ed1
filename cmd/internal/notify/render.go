package notify

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var supportedLanguages = []language.Tag{
	language.English,
	language.Azerbaijani,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// copyShape names the arguments a body message takes.
type copyShape int

const (
	shapeActorActivity copyShape = iota // actor name, activity title
	shapeActivity                       // activity title
	shapeActor                          // actor name
	shapeNone
)

type copyKey struct {
	title string
	body  string
	shape copyShape
	// eventText lets a non-empty Event.Title/Body replace the catalog copy.
	eventText bool
}

const previewRunes = 100

// Keys double as message ids in the catalog. Every kind with a preference flag has an entry.
var copyKeys = map[Kind]copyKey{
	KindFriendRequest:           {title: "friend_request.title", body: "friend_request.body", shape: shapeActor},
	KindFriendAccepted:          {title: "friend_accepted.title", body: "friend_accepted.body", shape: shapeActor},
	KindFriendRejected:          {title: "friend_rejected.title", body: "friend_rejected.body", shape: shapeActor},
	KindFriendNewActivity:       {title: "friend_new_activity.title", body: "friend_new_activity.body"},
	KindActivityJoinRequest:     {title: "activity_join_request.title", body: "activity_join_request.body"},
	KindActivityJoinApproved:    {title: "activity_join_approved.title", body: "activity_join_approved.body"},
	KindActivityJoinRejected:    {title: "activity_join_rejected.title", body: "activity_join_rejected.body"},
	KindActivityParticipantJoin: {title: "activity_participant_joined.title", body: "activity_participant_joined.body"},
	KindActivityParticipantLeft: {title: "activity_participant_left.title", body: "activity_participant_left.body"},
	KindActivityComment:         {title: "activity_comment.title", body: "activity_comment.body"},
	KindActivityUpdate:          {title: "activity_update.title", body: "activity_update.body", shape: shapeActivity},
	KindActivityCancelled:       {title: "activity_cancelled.title", body: "activity_cancelled.body", shape: shapeActivity},
	KindActivityReminder:        {title: "activity_reminder.title", body: "activity_reminder.body", shape: shapeActivity},
	KindActivityStartingSoon:    {title: "activity_starting_soon.title", body: "activity_starting_soon.body", shape: shapeActivity},
	KindNewActivityNearby:       {title: "new_activity_nearby.title", body: "new_activity_nearby.body", shape: shapeActivity},
	KindNewActivityInterest:     {title: "new_activity_interest.title", body: "new_activity_interest.body", shape: shapeActivity},
	KindNewMessage:              {title: "new_message.title", body: "new_message.body", shape: shapeActor, eventText: true},
	KindSystem:                  {title: "system.title", body: "system.body", shape: shapeNone, eventText: true},
	KindPromotional:             {title: "promotional.title", body: "promotional.body", shape: shapeNone, eventText: true},
}

var copyText = map[language.Tag]map[string]string{
	language.English: {
		"friend_request.title":              "New friend request",
		"friend_request.body":               "%s sent you a friend request",
		"friend_accepted.title":             "Friend request accepted",
		"friend_accepted.body":              "%s accepted your friend request",
		"friend_rejected.title":             "Friend request declined",
		"friend_rejected.body":              "%s declined your friend request",
		"friend_new_activity.title":         "New activity from a friend",
		"friend_new_activity.body":          "%s created \"%s\"",
		"activity_join_request.title":       "New join request",
		"activity_join_request.body":        "%s wants to join your activity \"%s\"",
		"activity_join_approved.title":      "Join request approved",
		"activity_join_approved.body":       "%s approved your request to join \"%s\"",
		"activity_join_rejected.title":      "Join request declined",
		"activity_join_rejected.body":       "%s declined your request to join \"%s\"",
		"activity_participant_joined.title": "New participant",
		"activity_participant_joined.body":  "%s joined \"%s\"",
		"activity_participant_left.title":   "Participant left",
		"activity_participant_left.body":    "%s left your activity \"%s\"",
		"activity_comment.title":            "New comment",
		"activity_comment.body":             "%s commented on \"%s\"",
		"activity_update.title":             "Activity updated",
		"activity_update.body":              "\"%s\" was changed",
		"activity_cancelled.title":          "Activity cancelled",
		"activity_cancelled.body":           "\"%s\" was cancelled",
		"activity_reminder.title":           "Activity reminder",
		"activity_reminder.body":            "\"%s\" is coming up",
		"activity_starting_soon.title":      "Activity starting soon",
		"activity_starting_soon.body":       "\"%s\" is starting soon",
		"new_activity_nearby.title":         "New activity nearby",
		"new_activity_nearby.body":          "\"%s\" was posted near you",
		"new_activity_interest.title":       "New activity for you",
		"new_activity_interest.body":        "\"%s\" matches your interests",
		"new_message.title":                 "New message",
		"new_message.body":                  "%s sent you a message",
		"system.title":                      "Acteezer update",
		"system.body":                       "There is news for you",
		"promotional.title":                 "New on Acteezer",
		"promotional.body":                  "See what's new",
	},
	language.Azerbaijani: {
		"friend_request.title":              "Yeni dostluq sorğusu",
		"friend_request.body":               "%s sizə dostluq sorğusu göndərdi",
		"friend_accepted.title":             "Dostluq sorğusu qəbul edildi",
		"friend_accepted.body":              "%s dostluq sorğunuzu qəbul etdi",
		"friend_rejected.title":             "Dostluq sorğusu rədd edildi",
		"friend_rejected.body":              "%s dostluq sorğunuzu rədd etdi",
		"friend_new_activity.title":         "Dostunuzdan yeni aktivitə",
		"friend_new_activity.body":          "%s \"%s\" aktivitəsini yaratdı",
		"activity_join_request.title":       "Yeni qoşulma sorğusu",
		"activity_join_request.body":        "%s \"%s\" aktivitənizə qoşulmaq istəyir",
		"activity_join_approved.title":      "Qoşulma sorğusu qəbul edildi",
		"activity_join_approved.body":       "%s \"%s\" aktivitəsinə qoşulma sorğunuzu qəbul etdi",
		"activity_join_rejected.title":      "Qoşulma sorğusu rədd edildi",
		"activity_join_rejected.body":       "%s \"%s\" aktivitəsinə qoşulma sorğunuzu rədd etdi",
		"activity_participant_joined.title": "Yeni iştirakçı",
		"activity_participant_joined.body":  "%s \"%s\" aktivitəsinə qoşuldu",
		"activity_participant_left.title":   "İştirakçı ayrıldı",
		"activity_participant_left.body":    "%s \"%s\" aktivitənizdən ayrıldı",
		"activity_comment.title":            "Yeni şərh",
		"activity_comment.body":             "%s \"%s\" aktivitəsinə şərh yazdı",
		"activity_update.title":             "Aktivitə yeniləndi",
		"activity_update.body":              "\"%s\" aktivitəsində dəyişiklik edildi",
		"activity_cancelled.title":          "Aktivitə ləğv edildi",
		"activity_cancelled.body":           "\"%s\" aktivitəsi ləğv edildi",
		"activity_reminder.title":           "Aktivitə xatırlatması",
		"activity_reminder.body":            "\"%s\" aktivitəsi yaxınlaşır",
		"activity_starting_soon.title":      "Aktivitə tezliklə başlayır",
		"activity_starting_soon.body":       "\"%s\" aktivitəsi tezliklə başlayır",
		"new_activity_nearby.title":         "Yaxınlıqda yeni aktivitə",
		"new_activity_nearby.body":          "\"%s\" aktivitəsi yaxınlığınızda yaradıldı",
		"new_activity_interest.title":       "Sizin üçün yeni aktivitə",
		"new_activity_interest.body":        "\"%s\" maraqlarınıza uyğundur",
		"new_message.title":                 "Yeni mesaj",
		"new_message.body":                  "%s sizə mesaj göndərdi",
		"system.title":                      "Acteezer yeniliyi",
		"system.body":                       "Sizin üçün yenilik var",
		"promotional.title":                 "Acteezer-də yenilik",
		"promotional.body":                  "Yeniliklərə baxın",
	},
}

// Renderer produces deterministic, localized title/body text for events.
type Renderer struct {
	cat      catalog.Catalog
	fallback language.Tag
}

// NewRenderer builds the message catalog. defaultLang is used when a recipient has no language.
func NewRenderer(defaultLang string) (*Renderer, error) {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range copyText {
		for key, text := range msgs {
			if err := b.SetString(tag, key, text); err != nil {
				return nil, err
			}
		}
	}
	return &Renderer{cat: b, fallback: matchLanguage(defaultLang, language.English)}, nil
}

// Render returns title and body for ev in lang.
// Kinds without a catalog entry use the event's own Title/Body.
func (r *Renderer) Render(ev Event, lang string) (title, body string, err error) {
	keys, ok := copyKeys[ev.Kind]
	if !ok {
		title, body = strings.TrimSpace(ev.Title), strings.TrimSpace(ev.Body)
		if title == "" {
			return "", "", ErrInvalidInput
		}
		return title, body, nil
	}

	p := message.NewPrinter(matchLanguage(lang, r.fallback), message.Catalog(r.cat))
	actor := strings.TrimSpace(ev.ActorName)
	if actor == "" {
		actor = ev.ActorID
	}

	title = p.Sprintf(keys.title)
	switch keys.shape {
	case shapeActivity:
		body = p.Sprintf(keys.body, ev.ActivityTitle)
	case shapeActor:
		body = p.Sprintf(keys.body, actor)
	case shapeNone:
		body = p.Sprintf(keys.body)
	default:
		body = p.Sprintf(keys.body, actor, ev.ActivityTitle)
	}

	if keys.eventText {
		if t := strings.TrimSpace(ev.Title); t != "" {
			title = t
		}
		if b := strings.TrimSpace(ev.Body); b != "" {
			body = preview(b)
		}
	}
	return title, body, nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes]) + "..."
}

func matchLanguage(raw string, fallback language.Tag) language.Tag {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return fallback
	}
	_, idx, conf := languageMatcher.Match(tag)
	if conf == language.No {
		return fallback
	}
	return supportedLanguages[idx]
}
