package domain

import "time"

type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceDrive  SourceKind = "drive"
	SourceUpload SourceKind = "upload"
)

// Valid reports whether k is one of the known source kinds.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceLocal, SourceDrive, SourceUpload:
		return true
	}
	return false
}

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type RoomStatus string

const (
	RoomActive    RoomStatus = "active"
	RoomCompleted RoomStatus = "completed"
	RoomArchived  RoomStatus = "archived"
)

type Room struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	CreatorID int64      `json:"creator_id"`
	Status    RoomStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

type Participant struct {
	ID       int64     `json:"id"`
	RoomID   int64     `json:"room_id"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

// Photo is a single imported image. StorageKey is empty until the encoded
// payload has been written, and only photos with a payload are listed or ranked.
type Photo struct {
	ID                int64      `json:"id"`
	RoomID            int64      `json:"room_id"`
	SourceType        SourceKind `json:"source_type"`
	Path              string     `json:"path,omitempty"`
	DriveID           string     `json:"drive_id,omitempty"`
	DriveThumbnailURL string     `json:"drive_thumbnail_url,omitempty"`
	Filename          string     `json:"filename"`
	StorageKey        string     `json:"-"`
	MimeType          string     `json:"mime_type,omitempty"`
	SizeKB            int        `json:"size_kb,omitempty"`
	Index             int        `json:"index"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Ready reports whether the photo has a materialized payload.
func (p *Photo) Ready() bool {
	return p.StorageKey != ""
}

// Allowed vote scores. Zero is not a valid score.
var VoteScores = []int{-3, -2, -1, 1, 2, 3}

// ValidScore reports whether score is in VoteScores.
func ValidScore(score int) bool {
	for _, s := range VoteScores {
		if s == score {
			return true
		}
	}
	return false
}

type Vote struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	PhotoID   int64     `json:"photo_id"`
	UserID    int64     `json:"user_id"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

type PhotoRanking struct {
	PhotoID           int64      `json:"photo_id"`
	Filename          string     `json:"filename"`
	SourceType        SourceKind `json:"source_type"`
	Path              string     `json:"path,omitempty"`
	DriveID           string     `json:"drive_id,omitempty"`
	DriveThumbnailURL string     `json:"drive_thumbnail_url,omitempty"`
	WeightedScore     float64    `json:"weighted_score"`
	VoteCount         int        `json:"vote_count"`
	Rank              int        `json:"rank"`
}

type ExportJob struct {
	ID              string    `json:"id"`
	RoomID          int64     `json:"room_id"`
	TopN            int       `json:"top_n"`
	DestinationType string    `json:"destination_type"`
	DestinationPath string    `json:"destination_path"`
	Status          JobStatus `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}
