package documents

import "time"

// Version change descriptions, kept stable because clients display them.
const (
	DescriptionCreated    = "Document created"
	DescriptionUpdated    = "Document updated"
	DescriptionManualSave = "Manual save"
)

// Document is the durable record of one shared text document. Content is a
// plain overwrite target: the most recently accepted edit or save wins, with
// no merge of concurrent writes.
type Document struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Title     string    `gorm:"column:title;size:320;not null"`
	Content   string    `gorm:"column:current_content;type:text;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	IsPublic  bool      `gorm:"column:is_public;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// DocumentVersion is an immutable, append-only snapshot. Version numbers are
// scoped to the document and strictly increasing; allocation is serialized
// per document by the service.
type DocumentVersion struct {
	ID            string    `gorm:"column:id;primaryKey;size:190;not null"`
	DocumentID    string    `gorm:"column:document_id;size:190;not null;index:idx_versions_document,priority:1"`
	VersionNumber int64     `gorm:"column:version_number;not null;index:idx_versions_document,priority:2"`
	Content       string    `gorm:"column:content;type:text;not null"`
	AuthorID      string    `gorm:"column:created_by;size:190;not null"`
	Description   string    `gorm:"column:change_description;size:320;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentVersion) TableName() string {
	return "document_versions"
}

// AccessView is a document joined with its owner's username, produced by an
// access-checked lookup.
type AccessView struct {
	ID            string    `gorm:"column:id"`
	Title         string    `gorm:"column:title"`
	Content       string    `gorm:"column:current_content"`
	OwnerID       string    `gorm:"column:owner_id"`
	OwnerUsername string    `gorm:"column:owner_username"`
	IsPublic      bool      `gorm:"column:is_public"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// Summary is a listing row: document metadata without content.
type Summary struct {
	ID            string    `gorm:"column:id"`
	Title         string    `gorm:"column:title"`
	OwnerID       string    `gorm:"column:owner_id"`
	OwnerUsername string    `gorm:"column:owner_username"`
	IsPublic      bool      `gorm:"column:is_public"`
	VersionCount  int64     `gorm:"column:version_count"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// VersionSummary is a history row: version metadata without content.
type VersionSummary struct {
	ID             string    `gorm:"column:id"`
	VersionNumber  int64     `gorm:"column:version_number"`
	Description    string    `gorm:"column:change_description"`
	AuthorID       string    `gorm:"column:created_by"`
	AuthorUsername string    `gorm:"column:author_username"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}
