package templates

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Template visibility levels.
const (
	VisibilityPrivate = "PRIVATE"
	VisibilityTenant  = "TENANT"
	VisibilityPublic  = "PUBLIC"
)

// ValidVisibility reports whether v is a known visibility level.
func ValidVisibility(v string) bool {
	switch v {
	case VisibilityPrivate, VisibilityTenant, VisibilityPublic:
		return true
	}
	return false
}

// FileEntry describes one stored file of a template version.
type FileEntry struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

var fileExtToType = map[string]string{
	".bpmn": "bpmn",
	".json": "json",
	".dmn":  "dmn",
	".md":   "md",
}

// FileTypeFromName maps a file name to its template file type.
func FileTypeFromName(name string) string {
	if t, ok := fileExtToType[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return "other"
}

// Template is one version row of a reusable process-model template.
type Template struct {
	ID          int64       `json:"id"`
	TenantID    string      `json:"tenant_id"`
	TemplateKey string      `json:"template_key"`
	Version     string      `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Category    string      `json:"category,omitempty"`
	Visibility  string      `json:"visibility"`
	Files       []FileEntry `json:"files"`
	IsPublished bool        `json:"is_published"`
	Status      string      `json:"status,omitempty"`
	IsDeleted   bool        `json:"is_deleted"`
	CreatedBy   string      `json:"created_by"`
	ModifiedBy  string      `json:"modified_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// versionKey returns a sortable key for V-prefixed versions. Known
// V-style versions rank above any legacy format and sort numerically,
// so V10 > V2.
func versionKey(version string) (rank int, number int, raw string) {
	v := strings.TrimSpace(version)
	if len(v) > 1 && (v[0] == 'V' || v[0] == 'v') {
		if n, err := strconv.Atoi(v[1:]); err == nil {
			return 1, n, v
		}
	}
	return 0, 0, v
}

// CompareVersions orders two version strings; negative when a < b.
func CompareVersions(a, b string) int {
	ra, na, va := versionKey(a)
	rb, nb, vb := versionKey(b)
	if ra != rb {
		return ra - rb
	}
	if ra == 1 {
		return na - nb
	}
	return strings.Compare(va, vb)
}

// NextVersion computes the version after the latest of existing. An
// empty set or a legacy latest starts the V-series at V1.
func NextVersion(existing []string) string {
	if len(existing) == 0 {
		return "V1"
	}
	latest := existing[0]
	for _, v := range existing[1:] {
		if CompareVersions(v, latest) > 0 {
			latest = v
		}
	}
	rank, n, _ := versionKey(latest)
	if rank == 1 {
		return "V" + strconv.Itoa(n+1)
	}
	return "V1"
}

// CreateTemplateRequest carries the fields to create a template version.
type CreateTemplateRequest struct {
	TemplateKey string   `json:"template_key"`
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category,omitempty"`
	Visibility  string   `json:"visibility,omitempty"`
	Status      string   `json:"status,omitempty"`
	IsPublished bool     `json:"is_published,omitempty"`
	FileName    string   `json:"file_name,omitempty"`
	Content     []byte   `json:"content,omitempty"`
}

// UpdateTemplateRequest carries partial updates. Nil fields are left
// unchanged. Content, when set, replaces the template's process file.
type UpdateTemplateRequest struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Visibility  *string   `json:"visibility,omitempty"`
	Status      *string   `json:"status,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	Content     []byte    `json:"content,omitempty"`
}

// ListOptions filters template listings.
type ListOptions struct {
	Category    string
	Tag         string
	Owner       string
	Visibility  string
	Search      string
	AllVersions bool
}
