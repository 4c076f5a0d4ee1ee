package templates

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lib/pq"

	"github.com/AOT-Technologies/m8flow/pkg/observability"
	"github.com/AOT-Technologies/m8flow/pkg/scope"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

const templateColumns = `id, m8f_tenant_id, template_key, version, name, description, tags, category,
	visibility, files, is_published, status, is_deleted, created_by, modified_by, created_at, updated_at`

// Service implements template CRUD, versioning, and visibility rules
// on tenant-scoped storage.
type Service struct {
	db      *scope.DB
	storage Storage
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewService creates a template service.
func NewService(db *scope.DB, storage Storage, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{db: db, storage: storage, logger: logger, metrics: metrics}
}

func (s *Service) countOp(op string) {
	if s.metrics != nil {
		s.metrics.TemplateOperationsTotal.WithLabelValues(op).Inc()
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		t           Template
		description sql.NullString
		category    sql.NullString
		status      sql.NullString
		tagsJSON    []byte
		filesJSON   []byte
	)
	err := row.Scan(&t.ID, &t.TenantID, &t.TemplateKey, &t.Version, &t.Name, &description,
		&tagsJSON, &category, &t.Visibility, &filesJSON, &t.IsPublished, &status,
		&t.IsDeleted, &t.CreatedBy, &t.ModifiedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	t.Category = category.String
	t.Status = status.String
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode template tags: %w", err)
		}
	}
	if len(filesJSON) > 0 {
		if err := json.Unmarshal(filesJSON, &t.Files); err != nil {
			return nil, fmt.Errorf("failed to decode template files: %w", err)
		}
	}
	return &t, nil
}

// canView applies the visibility rules: PUBLIC is readable by anyone,
// TENANT by the owning tenant, PRIVATE only by its creator. Queries are
// already tenant-scoped, so the tenant match is implicit.
func canView(t *Template, username string) bool {
	switch t.Visibility {
	case VisibilityPublic, VisibilityTenant:
		return true
	case VisibilityPrivate:
		return username != "" && t.CreatedBy == username
	}
	return false
}

// canEdit allows only the creator to modify a template.
func canEdit(t *Template, username string) bool {
	return username != "" && t.CreatedBy == username
}

// nextVersion computes the next V-style version for a template key
// within the transaction's tenant.
func (s *Service) nextVersion(ctx context.Context, tx *scope.Tx, templateKey string) (string, error) {
	where, args, _ := tx.Filter("template_key = $1", []any{templateKey}, 2)
	rows, err := tx.QueryContext(ctx,
		"SELECT version FROM m8flow_template WHERE "+where, args...)
	if err != nil {
		return "", fmt.Errorf("failed to load template versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", fmt.Errorf("failed to scan template version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return NextVersion(versions), nil
}

// Create stores the process file and inserts a new template version.
// The version is computed per tenant+key unless the request pins one.
func (s *Service) Create(ctx context.Context, username string, req CreateTemplateRequest) (*Template, error) {
	s.countOp("create")

	if username == "" {
		return nil, tenancy.NewAPIError(tenancy.CodeUnauthorized, http.StatusForbidden,
			"User must be authenticated to create templates.")
	}
	if req.TemplateKey == "" || req.Name == "" {
		return nil, tenancy.NewAPIError(tenancy.CodeMissingFields, http.StatusBadRequest,
			"template_key and name are required.")
	}
	if len(req.Content) == 0 {
		return nil, tenancy.NewAPIError(tenancy.CodeMissingFields, http.StatusBadRequest,
			"File content is required.")
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if !ValidVisibility(visibility) {
		return nil, tenancy.NewAPIError("invalid_visibility", http.StatusBadRequest,
			"Invalid visibility %q.", visibility)
	}
	status := req.Status
	if status == "" {
		status = "draft"
	}

	var created *Template
	err := s.db.WithTenantTx(ctx, func(tx *scope.Tx) error {
		if !tx.Scoped() {
			return tenancy.ErrTenantRequired()
		}

		version := req.Version
		if version == "" {
			var err error
			version, err = s.nextVersion(ctx, tx, req.TemplateKey)
			if err != nil {
				return err
			}
		}

		fileName := req.FileName
		if fileName == "" {
			fileName = req.TemplateKey + ".bpmn"
		}
		if err := s.storage.StoreFile(ctx, tx.TenantID(), req.TemplateKey, version, fileName, req.Content); err != nil {
			return err
		}

		files := []FileEntry{{FileName: fileName, FileType: FileTypeFromName(fileName)}}
		filesJSON, err := json.Marshal(files)
		if err != nil {
			return fmt.Errorf("failed to encode template files: %w", err)
		}
		var tagsJSON any
		if req.Tags != nil {
			tagsJSON, err = json.Marshal(req.Tags)
			if err != nil {
				return fmt.Errorf("failed to encode template tags: %w", err)
			}
		}

		columns := []string{"template_key", "version", "name", "description", "tags", "category",
			"visibility", "files", "is_published", "status", "created_by", "modified_by"}
		args := []any{req.TemplateKey, version, req.Name, nullable(req.Description), tagsJSON,
			nullable(req.Category), visibility, filesJSON, req.IsPublished, status, username, username}
		columns, args = tx.StampInsert(columns, args)

		query := fmt.Sprintf(
			"INSERT INTO m8flow_template (%s) VALUES (%s) RETURNING %s",
			strings.Join(columns, ", "), scope.Placeholders(1, len(args)), templateColumns)

		created, err = scanTemplate(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			return mapTemplateInsertError(err, req.TemplateKey, version)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"template_key": created.TemplateKey,
		"version":      created.Version,
		"tenant_id":    created.TenantID,
	}).Info("created template version")
	return created, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func mapTemplateInsertError(err error, templateKey, version string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return tenancy.NewAPIError("template_version_exists", http.StatusConflict,
			"Template %q version %s already exists.", templateKey, version)
	}
	return fmt.Errorf("failed to insert template: %w", err)
}

// List returns templates visible in the current tenant context, newest
// version per tenant+key unless AllVersions is set. Without a tenant
// context only PUBLIC templates are returned.
func (s *Service) List(ctx context.Context, username string, opts ListOptions) ([]*Template, error) {
	s.countOp("list")

	var results []*Template
	err := s.db.WithTenantTx(ctx, func(tx *scope.Tx) error {
		where := "is_deleted = FALSE"
		args := []any{}
		nextArg := 1
		where, args, nextArg = tx.Filter(where, args, nextArg)

		if !tx.Scoped() {
			where += fmt.Sprintf(" AND visibility = $%d", nextArg)
			args = append(args, VisibilityPublic)
			nextArg++
		}
		if opts.Category != "" {
			where += fmt.Sprintf(" AND category = $%d", nextArg)
			args = append(args, opts.Category)
			nextArg++
		}
		if opts.Owner != "" {
			where += fmt.Sprintf(" AND created_by = $%d", nextArg)
			args = append(args, opts.Owner)
			nextArg++
		}
		if opts.Visibility != "" {
			where += fmt.Sprintf(" AND visibility = $%d", nextArg)
			args = append(args, opts.Visibility)
			nextArg++
		}
		if opts.Search != "" {
			where += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d)", nextArg, nextArg+1)
			pattern := "%" + opts.Search + "%"
			args = append(args, pattern, pattern)
		}

		query := fmt.Sprintf("SELECT %s FROM m8flow_template WHERE %s ORDER BY template_key, id", templateColumns, where)
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list templates: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTemplate(rows)
			if err != nil {
				return err
			}
			results = append(results, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	if opts.Tag != "" {
		results = filterByTags(results, opts.Tag)
	}
	if !opts.AllVersions {
		results = latestPerKey(results)
	}
	return results, nil
}

// filterByTags keeps templates carrying any of the comma-separated
// tags. Tags live in a JSON column, so the match happens client-side.
func filterByTags(in []*Template, tagCSV string) []*Template {
	wanted := []string{}
	for _, t := range strings.Split(tagCSV, ",") {
		if t = strings.TrimSpace(t); t != "" {
			wanted = append(wanted, t)
		}
	}
	if len(wanted) == 0 {
		return in
	}
	out := make([]*Template, 0, len(in))
	for _, tmpl := range in {
		for _, have := range tmpl.Tags {
			matched := false
			for _, want := range wanted {
				if have == want {
					out = append(out, tmpl)
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
	}
	return out
}

// latestPerKey collapses versions to the newest row per tenant+key.
func latestPerKey(in []*Template) []*Template {
	type groupKey struct{ tenant, key string }
	latest := map[groupKey]*Template{}
	order := []groupKey{}
	for _, t := range in {
		k := groupKey{t.TenantID, t.TemplateKey}
		current, ok := latest[k]
		if !ok {
			order = append(order, k)
			latest[k] = t
			continue
		}
		if CompareVersions(t.Version, current.Version) > 0 {
			latest[k] = t
		}
	}
	out := make([]*Template, 0, len(order))
	for _, k := range order {
		out = append(out, latest[k])
	}
	return out
}

// GetByID fetches a non-deleted template by row id, applying visibility.
func (s *Service) GetByID(ctx context.Context, username string, id int64) (*Template, error) {
	s.countOp("get")
	var result *Template
	err := s.db.WithTenantTx(ctx, func(tx *scope.Tx) error {
		t, err := getByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canView(t, username) {
			return errTemplateNotFound()
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func getByIDTx(ctx context.Context, tx *scope.Tx, id int64) (*Template, error) {
	where, args, _ := tx.Filter("id = $1 AND is_deleted = FALSE", []any{id}, 2)
	query := fmt.Sprintf("SELECT %s FROM m8flow_template WHERE %s", templateColumns, where)
	t, err := scanTemplate(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errTemplateNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	return t, nil
}

func errTemplateNotFound() *tenancy.APIError {
	return tenancy.NewAPIError(tenancy.CodeNotFound, http.StatusNotFound, "Template not found.")
}

// GetByKey fetches a template by key: a pinned version when version is
// non-empty, the latest version otherwise.
func (s *Service) GetByKey(ctx context.Context, username, templateKey, version string) (*Template, error) {
	s.countOp("get")

	var result *Template
	err := s.db.WithTenantTx(ctx, func(tx *scope.Tx) error {
		where := "template_key = $1 AND is_deleted = FALSE"
		args := []any{templateKey}
		nextArg := 2
		where, args, nextArg = tx.Filter(where, args, nextArg)
		if version != "" {
			where += fmt.Sprintf(" AND version = $%d", nextArg)
			args = append(args, version)
		}

		query := fmt.Sprintf("SELECT %s FROM m8flow_template WHERE %s", templateColumns, where)
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to load template: %w", err)
		}
		defer rows.Close()

		var latest *Template
		for rows.Next() {
			t, err := scanTemplate(rows)
			if err != nil {
				return err
			}
			if !canView(t, username) {
				continue
			}
			if latest == nil || CompareVersions(t.Version, latest.Version) > 0 {
				latest = t
			}
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if latest == nil {
			return errTemplateNotFound()
		}
		result = latest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Update modifies a template version. Drafts are updated in place.
// Published versions are immutable: the update lands on a fresh
// unpublished version copied from the existing row.
func (s *Service) Update(ctx context.Context, username string, id int64, req UpdateTemplateRequest) (*Template, error) {
	s.countOp("update")

	if req.Visibility != nil && !ValidVisibility(*req.Visibility) {
		return nil, tenancy.NewAPIError("invalid_visibility", http.StatusBadRequest,
			"Invalid visibility %q.", *req.Visibility)
	}

	var result *Template
	err := s.db.WithTenantTx(ctx, func(tx *scope.Tx) error {
		existing, err := getByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canView(existing, username) {
			return errTemplateNotFound()
		}
		if !canEdit(existing, username) {
			return tenancy.NewAPIError(tenancy.CodeForbidden, http.StatusForbidden,
				"You cannot edit this template.")
		}

		if !existing.IsPublished {
			result, err = s.updateInPlace(ctx, tx, existing, username, req)
			return err
		}
		result, err = s.copyOnWrite(ctx, tx, existing, username, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) updateInPlace(ctx context.Context, tx *scope.Tx, existing *Template, username string, req UpdateTemplateRequest) (*Template, error) {
	if len(req.Content) > 0 {
		fileName := req.FileName
		if fileName == "" {
			fileName = primaryFileName(existing)
		}
		if err := s.storage.StoreFile(ctx, tx.TenantID(), existing.TemplateKey, existing.Version, fileName, req.Content); err != nil {
			return nil, err
		}
		mergeFileEntry(existing, fileName)
	}
	applyUpdates(existing, req)
	existing.ModifiedBy = username

	tagsJSON, filesJSON, err := encodeJSONColumns(existing)
	if err != nil {
		return nil, err
	}

	where, args, _ := tx.Filter("id = $9", []any{
		existing.Name, nullable(existing.Description), tagsJSON, nullable(existing.Category),
		existing.Visibility, filesJSON, nullable(existing.Status), username, existing.ID,
	}, 10)
	query := fmt.Sprintf(`UPDATE m8flow_template
		SET name = $1, description = $2, tags = $3, category = $4, visibility = $5,
			files = $6, status = $7, modified_by = $8, updated_at = NOW()
		WHERE %s RETURNING %s`, where, templateColumns)

	updated, err := scanTemplate(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return updated, nil
}

func (s *Service) copyOnWrite(ctx context.Context, tx *scope.Tx, existing *Template, username string, req UpdateTemplateRequest) (*Template, error) {
	version, err := s.nextVersion(ctx, tx, existing.TemplateKey)
	if err != nil {
		return nil, err
	}

	next := *existing
	next.Version = version
	next.IsPublished = false
	next.CreatedBy = username
	next.ModifiedBy = username
	next.Files = append([]FileEntry(nil), existing.Files...)
	next.Tags = append([]string(nil), existing.Tags...)

	if len(req.Content) > 0 {
		fileName := req.FileName
		if fileName == "" {
			fileName = primaryFileName(existing)
		}
		if err := s.storage.StoreFile(ctx, tx.TenantID(), existing.TemplateKey, version, fileName, req.Content); err != nil {
			return nil, err
		}
		mergeFileEntry(&next, fileName)
	}
	applyUpdates(&next, req)

	tagsJSON, filesJSON, err := encodeJSONColumns(&next)
	if err != nil {
		return nil, err
	}

	columns := []string{"template_key", "version", "name", "description", "tags", "category",
		"visibility", "files", "is_published", "status", "created_by", "modified_by"}
	args := []any{next.TemplateKey, next.Version, next.Name, nullable(next.Description), tagsJSON,
		nullable(next.Category), next.Visibility, filesJSON, false, nullable(next.Status), username, username}
	columns, args = tx.StampInsert(columns, args)

	query := fmt.Sprintf(
		"INSERT INTO m8flow_template (%s) VALUES (%s) RETURNING %s",
		strings.Join(columns, ", "), scope.Placeholders(1, len(args)), templateColumns)

	created, err := scanTemplate(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, mapTemplateInsertError(err, next.TemplateKey, next.Version)
	}
	return created, nil
}

func applyUpdates(t *Template, req UpdateTemplateRequest) {
	if req.Name != nil {
		t.Name = *req.Name
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Tags != nil {
		t.Tags = *req.Tags
	}
	if req.Category != nil {
		t.Category = *req.Category
	}
	if req.Visibility != nil {
		t.Visibility = *req.Visibility
	}
	if req.Status != nil {
		t.Status = *req.Status
	}
}

func primaryFileName(t *Template) string {
	for _, f := range t.Files {
		if f.FileType == "bpmn" {
			return f.FileName
		}
	}
	if len(t.Files) > 0 {
		return t.Files[0].FileName
	}
	return t.TemplateKey + ".bpmn"
}

func mergeFileEntry(t *Template, fileName string) {
	for _, f := range t.Files {
		if f.FileName == fileName {
			return
		}
	}
	t.Files = append(t.Files, FileEntry{FileName: fileName, FileType: FileTypeFromName(fileName)})
}

func encodeJSONColumns(t *Template) (tagsJSON any, filesJSON []byte, err error) {
	if t.Tags != nil {
		b, err := json.Marshal(t.Tags)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode template tags: %w", err)
		}
		tagsJSON = b
	}
	filesJSON, err = json.Marshal(t.Files)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode template files: %w", err)
	}
	return tagsJSON, filesJSON, nil
}

// Delete soft-deletes a draft template version. Published versions are
// immutable and cannot be deleted.
func (s *Service) Delete(ctx context.Context, username string, id int64) error {
	s.countOp("delete")

	return s.db.WithTenantTx(ctx, func(tx *scope.Tx) error {
		existing, err := getByIDTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canView(existing, username) {
			return errTemplateNotFound()
		}
		if existing.IsPublished {
			return tenancy.NewAPIError(tenancy.CodeImmutable, http.StatusBadRequest,
				"Published template versions cannot be deleted.")
		}
		if !canEdit(existing, username) {
			return tenancy.NewAPIError(tenancy.CodeForbidden, http.StatusForbidden,
				"You cannot delete this template.")
		}

		where, args, _ := tx.Filter("id = $2", []any{username, id}, 3)
		query := "UPDATE m8flow_template SET is_deleted = TRUE, modified_by = $1, updated_at = NOW() WHERE " + where
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		return nil
	})
}

// Archive returns a zip of all stored files for a template version.
func (s *Service) Archive(ctx context.Context, username string, id int64) (*Template, []byte, error) {
	s.countOp("archive")

	t, err := s.GetByID(ctx, username, id)
	if err != nil {
		return nil, nil, err
	}
	content, err := BuildZip(ctx, s.storage, s.logger, t.TenantID, t.TemplateKey, t.Version, t.Files)
	if err != nil {
		return nil, nil, err
	}
	return t, content, nil
}
