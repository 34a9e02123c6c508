// Package store is the session-metadata store (§6 "Persisted state"): a
// local relational database of session descriptors, groups, and tags. It
// is deliberately NOT part of the multiplexer core — the registry never
// reads or writes it directly — but every desktop build of this service
// needs somewhere to keep the records the UI lists and edits, so this
// package supplies the default, swappable implementation.
package store

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Session is a persisted session descriptor, matching the UUID-keyed shape
// in §6: (id, addr, port, server_name, username, auth_type, private_key_path?,
// is_favorite, created_at, updated_at). The multiplexer receives only
// materialized credentials at connect time; AuthType and PrivateKeyPath
// here are metadata about where the UI should re-resolve a secret, never
// the secret itself.
type Session struct {
	ID             string `gorm:"primaryKey"`
	Addr           string
	Port           int
	ServerName     string
	Username       string
	AuthType       string
	PrivateKeyPath string
	IsFavorite     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Groups         []Group `gorm:"many2many:session_groups;"`
	Tags           []Tag   `gorm:"many2many:session_tags;"`
}

// Group is a user-defined collection of sessions.
type Group struct {
	ID   string `gorm:"primaryKey"`
	Name string
	Sort int64
}

// Tag is a user-defined label applicable to sessions.
type Tag struct {
	ID    string `gorm:"primaryKey"`
	Name  string
	Color string
	Sort  int64
}

// Store wraps the GORM handle used for session-metadata CRUD.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if absent) a SQLite-backed metadata store at path.
// glebarez/sqlite is a pure-Go driver, matching this package's "no cgo
// toolchain required for a desktop build" constraint.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Session{}, &Group{}, &Tag{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// UpsertSession creates or updates a session descriptor's metadata row.
// Credentials are never part of this record (§6).
func (s *Store) UpsertSession(sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()
	return s.db.Save(sess).Error
}

// GetSession fetches one session descriptor by id, with its groups/tags.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	if err := s.db.Preload("Groups").Preload("Tags").First(&sess, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns every persisted session descriptor, most recently
// updated first.
func (s *Store) ListSessions() ([]Session, error) {
	var sessions []Session
	if err := s.db.Preload("Groups").Preload("Tags").Order("updated_at desc").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSession removes a session descriptor and its group/tag links.
func (s *Store) DeleteSession(id string) error {
	if err := s.db.Model(&Session{ID: id}).Association("Groups").Clear(); err != nil {
		return err
	}
	if err := s.db.Model(&Session{ID: id}).Association("Tags").Clear(); err != nil {
		return err
	}
	return s.db.Delete(&Session{}, "id = ?", id).Error
}

// ToggleFavorite sets the is_favorite flag on a session descriptor to
// isFavorite.
func (s *Store) ToggleFavorite(id string, isFavorite bool) error {
	return s.db.Model(&Session{}).Where("id = ?", id).Update("is_favorite", isFavorite).Error
}

// UpsertGroup creates or updates a group.
func (s *Store) UpsertGroup(g *Group) error {
	return s.db.Save(g).Error
}

// ListGroups returns every group, ordered by its sort key.
func (s *Store) ListGroups() ([]Group, error) {
	var groups []Group
	if err := s.db.Order("sort asc").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

// UpsertTag creates or updates a tag.
func (s *Store) UpsertTag(t *Tag) error {
	return s.db.Save(t).Error
}

// ListTags returns every tag, ordered by its sort key.
func (s *Store) ListTags() ([]Tag, error) {
	var tags []Tag
	if err := s.db.Order("sort asc").Find(&tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

// LinkSessionGroup associates a session with a group (many-to-many).
func (s *Store) LinkSessionGroup(sessionID, groupID string) error {
	return s.db.Model(&Session{ID: sessionID}).Association("Groups").Append(&Group{ID: groupID})
}

// LinkSessionTag associates a session with a tag (many-to-many).
func (s *Store) LinkSessionTag(sessionID, tagID string) error {
	return s.db.Model(&Session{ID: sessionID}).Association("Tags").Append(&Tag{ID: tagID})
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
