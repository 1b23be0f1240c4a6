package domain

import (
	"strings"
	"time"
)

type User struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	Avatar    string `json:"avatar,omitempty"`
	Email     string `json:"email,omitempty"`
}

// PublicUser est la projection publique d'un utilisateur (jamais d'email).
type PublicUser struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
}

func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:        u.ID,
		Slug:      u.Slug,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		FullName:  u.FullName,
	}
}

// AsActor réduit l'utilisateur à {id, full_name, slug}.
func (u *User) AsActor() Actor {
	return Actor{ID: u.ID, FullName: u.FullName, Slug: u.Slug}
}

type ChannelStatus string

const (
	ChannelPublic  ChannelStatus = "public"
	ChannelClosed  ChannelStatus = "closed"
	ChannelPrivate ChannelStatus = "private"
)

type Channel struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Slug      string        `json:"slug"`
	Status    ChannelStatus `json:"status"`
	UserID    string        `json:"user_id"`
	User      *PublicUser   `json:"user,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type Block struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	SourceURL string    `json:"source_url,omitempty"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slugify produit un slug url-safe à partir d'un titre.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// Clés du cache d'entités : "<kind>:<id>"
func UserKey(id string) string    { return "user:" + id }
func ChannelKey(id string) string { return "channel:" + id }
func BlockKey(id string) string   { return "block:" + id }
