// Package cachetag builds the invalidation tags shared by cached read paths and the
// mutations that make them stale.
//
// A tag is composed of a namespace, a key from a closed catalogue and an ordered list of
// scope identifiers. Writers and readers must build tags through ForOrganization and ForUser
// so that both sides agree byte-for-byte on the serialized form.
package cachetag

import "strings"

// Namespace identifies the scope family a tag belongs to.
type Namespace string

const (
	// NamespaceOrganization scopes tags to a tenant.
	NamespaceOrganization Namespace = "organization"
	// NamespaceUser scopes tags to a single user.
	NamespaceUser Namespace = "user"
)

const separator = ":"

// OrganizationKey enumerates organization-scoped cached data.
type OrganizationKey int

const (
	Members OrganizationKey = iota + 1
	Contacts
	Contact
	ContactNotes
	ContactTasks
	ContactTimelineEvents
	ContactPageVisits
	LeadGenerationData
	SocialMedia
	Subscriptions
	Orders
)

var organizationKeyNames = map[OrganizationKey]string{
	Members:               "members",
	Contacts:              "contacts",
	Contact:               "contact",
	ContactNotes:          "contact_notes",
	ContactTasks:          "contact_tasks",
	ContactTimelineEvents: "contact_timeline_events",
	ContactPageVisits:     "contact_page_visits",
	LeadGenerationData:    "lead_generation_data",
	SocialMedia:           "social_media",
	Subscriptions:         "subscriptions",
	Orders:                "orders",
}

// String returns the wire name of the key, or "unknown" outside the catalogue.
func (k OrganizationKey) String() string {
	if name, ok := organizationKeyNames[k]; ok {
		return name
	}
	return "unknown"
}

// UserKey enumerates user-scoped cached data.
type UserKey int

const (
	Profile UserKey = iota + 1
	PersonalDetails
	Preferences
	Organizations
)

var userKeyNames = map[UserKey]string{
	Profile:         "profile",
	PersonalDetails: "personal_details",
	Preferences:     "preferences",
	Organizations:   "organizations",
}

// String returns the wire name of the key, or "unknown" outside the catalogue.
func (k UserKey) String() string {
	if name, ok := userKeyNames[k]; ok {
		return name
	}
	return "unknown"
}

// Tag is a structured invalidation key. Tags are comparable: two tags are equal
// iff namespace, key and every scope identifier match.
type Tag struct {
	namespace Namespace
	key       string
	scope     string // escaped scope ids joined by separator
	valid     bool
}

// ForOrganization builds an organization-scoped tag. Optional subIDs narrow the tag to a
// sub-resource (e.g. a single contact) and are appended after the organization id.
func ForOrganization(key OrganizationKey, organizationID string, subIDs ...string) Tag {
	_, ok := organizationKeyNames[key]
	return newTag(NamespaceOrganization, key.String(), ok, organizationID, subIDs)
}

// ForUser builds a user-scoped tag.
func ForUser(key UserKey, userID string, subIDs ...string) Tag {
	_, ok := userKeyNames[key]
	return newTag(NamespaceUser, key.String(), ok, userID, subIDs)
}

func newTag(ns Namespace, key string, known bool, id string, subIDs []string) Tag {
	parts := make([]string, 0, len(subIDs)+1)
	parts = append(parts, escape(id))
	for _, sub := range subIDs {
		parts = append(parts, escape(sub))
	}
	return Tag{
		namespace: ns,
		key:       key,
		scope:     strings.Join(parts, separator),
		valid:     known && id != "",
	}
}

// Namespace returns the tag namespace.
func (t Tag) Namespace() Namespace { return t.namespace }

// Key returns the wire name of the tag key.
func (t Tag) Key() string { return t.key }

// Valid reports whether the tag was built from a catalogued key and a non-empty scope id.
func (t Tag) Valid() bool { return t.valid }

// String returns the serialized form "namespace:key:scope[:sub...]".
func (t Tag) String() string {
	if t.namespace == "" {
		return ""
	}
	return string(t.namespace) + separator + t.key + separator + t.scope
}

// Key joins parts into a cache entry key using the same escaping as tags, so distinct
// part lists never collide.
func Key(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = escape(p)
	}
	return strings.Join(escaped, separator)
}

// Dedupe returns tags with duplicates and invalid tags removed, preserving first-seen order.
func Dedupe(tags []Tag) []Tag {
	seen := make(map[Tag]struct{}, len(tags))
	out := make([]Tag, 0, len(tags))
	for _, t := range tags {
		if !t.valid {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

var escaper = strings.NewReplacer("%", "%25", separator, "%3A")

func escape(s string) string {
	return escaper.Replace(s)
}
