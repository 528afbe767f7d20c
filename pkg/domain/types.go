package domain

import "time"

type FileStatus string

const (
	FileStatusUploaded FileStatus = "uploaded"
)

// DefaultTier is assigned to every profile created on first access.
const DefaultTier = "free"

// Unlimited marks a plan limit with no ceiling.
const Unlimited = -1

// Identity is the verified caller identity taken from a bearer token.
type Identity struct {
	Subject     string
	Email       string
	Name        string
	Permissions []string
	Scopes      []string
	ExpiresAt   time.Time
}

// User is the request-scoped authenticated caller.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Tier        string   `json:"subscriptionTier"`
	Permissions []string `json:"permissions"`
	Scopes      []string `json:"scopes"`
}

// HasPermission reports whether the token granted perm as a permission or scope.
func (u User) HasPermission(perm string) bool {
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	for _, s := range u.Scopes {
		if s == perm {
			return true
		}
	}
	return false
}

type Profile struct {
	ID               string         `json:"id"`
	UserID           string         `json:"userId"`
	Email            string         `json:"email"`
	FullName         string         `json:"fullName"`
	Organization     string         `json:"organization"`
	AvatarURL        string         `json:"avatarUrl"`
	SubscriptionTier string         `json:"subscriptionTier"`
	Metadata         map[string]any `json:"metadata"`
	IsActive         bool           `json:"isActive"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// ProfileUpdate carries the mutable profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName         *string
	Organization     *string
	AvatarURL        *string
	SubscriptionTier *string
	Metadata         map[string]any
}

type Folder struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	FileCount int       `json:"fileCount"`
	CreatedAt time.Time `json:"createdAt"`
}

type File struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"ownerId"`
	FolderID  string     `json:"folderId"`
	ObjectKey string     `json:"objectKey"`
	Filename  string     `json:"filename"`
	Bytes     int64      `json:"bytes"`
	Mime      string     `json:"mime"`
	Status    FileStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// FileFilter narrows a file listing. An empty FolderID lists every folder.
type FileFilter struct {
	FolderID string
	Limit    int
}

// FileSummary aggregates an owner's files.
type FileSummary struct {
	Count      int
	TotalBytes int64
	ByType     map[string]int
}

type Plan struct {
	ID                    string   `json:"id" yaml:"id"`
	Name                  string   `json:"name" yaml:"name"`
	Price                 float64  `json:"price" yaml:"price"`
	Interval              string   `json:"interval" yaml:"interval"`
	MaxFiles              int      `json:"maxFiles" yaml:"maxFiles"`
	StorageGB             int      `json:"storageGb" yaml:"storageGb"`
	APIRateLimitPerMinute int      `json:"apiRateLimitPerMinute" yaml:"apiRateLimitPerMinute"`
	Features              []string `json:"features" yaml:"features"`
}

// AllowsAnotherFile reports whether an owner holding count files may add one more.
func (p Plan) AllowsAnotherFile(count int) bool {
	if p.MaxFiles == Unlimited {
		return true
	}
	return count < p.MaxFiles
}
