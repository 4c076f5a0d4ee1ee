package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/AOT-Technologies/m8flow/pkg/contextkeys"
	"github.com/AOT-Technologies/m8flow/pkg/httputil"
	"github.com/AOT-Technologies/m8flow/pkg/templates"
	"github.com/AOT-Technologies/m8flow/pkg/tenancy"
)

// Template metadata travels in headers so the request body can carry
// the raw BPMN XML.
const (
	headerTemplateKey         = "X-Template-Key"
	headerTemplateName        = "X-Template-Name"
	headerTemplateDescription = "X-Template-Description"
	headerTemplateCategory    = "X-Template-Category"
	headerTemplateTags        = "X-Template-Tags"
	headerTemplateVisibility  = "X-Template-Visibility"
	headerTemplateStatus      = "X-Template-Status"
	headerTemplatePublished   = "X-Template-Is-Published"
	headerTemplateVersion     = "X-Template-Version"
	headerTemplateFileName    = "X-Template-File-Name"
)

// parseTagsHeader accepts a JSON array or a comma-separated list.
func parseTagsHeader(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err == nil {
		return tags
	}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func isXMLRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/xml")
}

func templateID(r *http.Request) (int64, error) {
	raw, err := httputil.ParsePathString(r, "id")
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// createTemplate handles POST /v1.0/m8flow/templates
//
// The body is the BPMN XML; metadata comes from X-Template-* headers.
func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	username := contextkeys.GetUser(r.Context())

	if !isXMLRequest(r) {
		httputil.WriteErrorCode(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
			"Only application/xml is supported for template creation. Send BPMN XML in the body and metadata via X-Template-* headers.")
		return
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_body", "Could not read request body.")
		return
	}
	if len(content) == 0 {
		httputil.WriteBadRequest(w, "missing_content", "BPMN XML content is required in request body.")
		return
	}

	req := templates.CreateTemplateRequest{
		TemplateKey: r.Header.Get(headerTemplateKey),
		Name:        r.Header.Get(headerTemplateName),
		Version:     r.Header.Get(headerTemplateVersion),
		Description: r.Header.Get(headerTemplateDescription),
		Category:    r.Header.Get(headerTemplateCategory),
		Tags:        parseTagsHeader(r.Header.Get(headerTemplateTags)),
		Visibility:  r.Header.Get(headerTemplateVisibility),
		Status:      r.Header.Get(headerTemplateStatus),
		IsPublished: strings.EqualFold(r.Header.Get(headerTemplatePublished), "true"),
		FileName:    r.Header.Get(headerTemplateFileName),
		Content:     content,
	}
	if req.TemplateKey == "" || req.Name == "" {
		httputil.WriteBadRequest(w, tenancy.CodeMissingFields,
			"X-Template-Key and X-Template-Name headers are required.")
		return
	}

	template, err := s.templates.Create(r.Context(), username, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteCreated(w, template)
}

// listTemplates handles GET /v1.0/m8flow/templates
func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	username := contextkeys.GetUser(r.Context())

	latestOnly, err := httputil.ParseQueryBool(r, "latest_only", true)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "latest_only must be a boolean")
		return
	}

	list, err := s.templates.List(r.Context(), username, templates.ListOptions{
		Category:    httputil.ParseQueryString(r, "category", ""),
		Tag:         httputil.ParseQueryString(r, "tag", ""),
		Owner:       httputil.ParseQueryString(r, "owner", ""),
		Visibility:  httputil.ParseQueryString(r, "visibility", ""),
		Search:      httputil.ParseQueryString(r, "search", ""),
		AllVersions: !latestOnly,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, list)
}

// getTemplate handles GET /v1.0/m8flow/templates/{id}
func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := templateID(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "id must be an integer")
		return
	}

	template, err := s.templates.GetByID(r.Context(), contextkeys.GetUser(r.Context()), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, template)
}

// getTemplateByKey handles GET /v1.0/m8flow/templates/key/{template_key}
//
// ?version pins an exact version; without it the latest visible version
// is returned.
func (s *Server) getTemplateByKey(w http.ResponseWriter, r *http.Request) {
	key, ok := httputil.ParsePathStringOrError(w, r, "template_key")
	if !ok {
		return
	}
	version := httputil.ParseQueryString(r, "version", "")

	template, err := s.templates.GetByKey(r.Context(), contextkeys.GetUser(r.Context()), key, version)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, template)
}

// updateTemplate handles PUT /v1.0/m8flow/templates/{id}
//
// Accepts either BPMN XML with X-Template-* headers (replacing the
// process file) or a JSON body of metadata updates.
func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	username := contextkeys.GetUser(r.Context())
	id, err := templateID(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "id must be an integer")
		return
	}

	var req templates.UpdateTemplateRequest
	if isXMLRequest(r) {
		if v := r.Header.Get(headerTemplateName); v != "" {
			req.Name = &v
		}
		if v := r.Header.Get(headerTemplateDescription); v != "" {
			req.Description = &v
		}
		if v := r.Header.Get(headerTemplateCategory); v != "" {
			req.Category = &v
		}
		if v := r.Header.Get(headerTemplateTags); v != "" {
			tags := parseTagsHeader(v)
			req.Tags = &tags
		}
		if v := r.Header.Get(headerTemplateVisibility); v != "" {
			req.Visibility = &v
		}
		if v := r.Header.Get(headerTemplateStatus); v != "" {
			req.Status = &v
		}
		req.FileName = r.Header.Get(headerTemplateFileName)

		content, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid_body", "Could not read request body.")
			return
		}
		req.Content = content
	} else if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	template, err := s.templates.Update(r.Context(), username, id, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, template)
}

// deleteTemplate handles DELETE /v1.0/m8flow/templates/{id}
func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := templateID(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "id must be an integer")
		return
	}

	if err := s.templates.Delete(r.Context(), contextkeys.GetUser(r.Context()), id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]bool{"deleted": true})
}

// downloadTemplateFiles handles GET /v1.0/m8flow/templates/{id}/file
//
// Streams the version's stored files as a zip archive.
func (s *Server) downloadTemplateFiles(w http.ResponseWriter, r *http.Request) {
	id, err := templateID(r)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_parameter", "id must be an integer")
		return
	}

	template, archive, err := s.templates.Archive(r.Context(), contextkeys.GetUser(r.Context()), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	filename := fmt.Sprintf("%s_%s.zip", template.TemplateKey, template.Version)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(archive)))
	w.WriteHeader(http.StatusOK)
	w.Write(archive)
}
