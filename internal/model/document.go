// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Document 对应 documents 表，一个文档可以有多个版本，同一时刻只有一个最新版本。
type Document struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID   uint              `gorm:"not null;index" json:"ownerId"`
	Title     string            `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updatedAt"`
	Versions  []DocumentVersion `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// DocumentVersion 对应 document_versions 表，记录一次上传的修订。
// WrappedKey 是被主密钥封装后的文件密钥，明文密钥从不落库。
type DocumentVersion struct {
	ID               uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID       uuid.UUID        `gorm:"type:uuid;not null;index" json:"documentId"`
	StorageKey       string           `gorm:"type:varchar(512);not null" json:"-"`
	WrappedKey       []byte           `gorm:"not null" json:"-"`
	OriginalFilename string           `gorm:"type:varchar(255);not null" json:"originalFilename"`
	MimeType         string           `gorm:"type:varchar(255)" json:"mimeType"`
	SizeBytes        int64            `gorm:"not null" json:"sizeBytes"`
	VersionNumber    int              `gorm:"not null" json:"versionNumber"`
	IsLatest         bool             `gorm:"not null;default:false;index" json:"isLatest"`
	Status           ProcessingStatus `gorm:"type:varchar(32);not null;default:pending;index" json:"status"`
	LastProcessedAt  *time.Time       `gorm:"default:null" json:"lastProcessedAt"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	Document         *Document        `gorm:"foreignKey:DocumentID" json:"-"`
	Chunks           []DocumentChunk  `gorm:"foreignKey:VersionID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentVersion) TableName() string {
	return "document_versions"
}

func (v *DocumentVersion) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}
