package engine

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/liamcoop/automations/internal/logger"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// NameSource resolves entity ids to display names. Implemented by the
// workspace cache snapshot; a nil source degrades to payload-only
// resolution.
type NameSource interface {
	ProjectName(id string) (string, bool)
	ClientName(id string) (string, bool)
	UserName(id string) (string, bool)
	TagName(id string) (string, bool)
}

// Resolve substitutes {{path}} tokens in template. The first path
// segment selects a root: "timeEntry" (the payload), "project",
// "client", "user" (cache-backed entities) or "workspace". A path
// with no recognized root is resolved against the time-entry payload
// directly, so {{description}} works. Unresolved paths render to ""
// and log a warning; a template never fails to resolve.
func Resolve(template string, ctx *TimeEntryContext, names NameSource) string {
	return replaceAll(template, ctx, names, func(s string) string { return s })
}

// ResolveForPath is Resolve with URL-escaped substitution values, for
// building request paths from untrusted payload data.
func ResolveForPath(template string, ctx *TimeEntryContext, names NameSource) string {
	return replaceAll(template, ctx, names, url.PathEscape)
}

func replaceAll(template string, ctx *TimeEntryContext, names NameSource, transform func(string) string) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		path := strings.TrimSpace(token[2 : len(token)-2])
		value, ok := resolvePath(path, ctx, names)
		if !ok {
			logger.Warn("unresolved placeholder", "path", path)
			return ""
		}
		return transform(value)
	})
}

func resolvePath(path string, ctx *TimeEntryContext, names NameSource) (string, bool) {
	if path == "" || ctx == nil {
		return "", false
	}

	root, rest, _ := strings.Cut(path, ".")
	switch root {
	case "timeEntry":
		if rest == "" {
			return "", false
		}
		return ctx.Lookup(rest)
	case "project":
		return entityField(rest, ctx.ProjectID(), ctx.ProjectName(), names, projectLookup)
	case "client":
		return entityField(rest, ctx.ClientID(), ctx.ClientName(), names, clientLookup)
	case "user":
		return entityField(rest, ctx.UserID(), "", names, userLookup)
	case "workspace":
		if rest == "" || rest == "id" {
			return nonEmpty(ctx.WorkspaceID())
		}
		return "", false
	default:
		return ctx.Lookup(path)
	}
}

type nameLookup func(names NameSource, id string) (string, bool)

func projectLookup(names NameSource, id string) (string, bool) { return names.ProjectName(id) }
func clientLookup(names NameSource, id string) (string, bool)  { return names.ClientName(id) }
func userLookup(names NameSource, id string) (string, bool)    { return names.UserName(id) }

func entityField(field, id, embeddedName string, names NameSource, lookup nameLookup) (string, bool) {
	switch field {
	case "id":
		return nonEmpty(id)
	case "", "name":
		if embeddedName != "" {
			return embeddedName, true
		}
		if names != nil && id != "" {
			if name, ok := lookup(names, id); ok {
				return name, true
			}
		}
		return "", false
	default:
		return "", false
	}
}

func nonEmpty(s string) (string, bool) {
	return s, s != ""
}
