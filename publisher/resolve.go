package publisher

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"auto_blog_publisher/payload"
)

// idAliasPaths are searched, in order, when an "id" or "_id" placeholder
// has no direct hit. External APIs commonly nest the assigned id.
var idAliasPaths = []string{
	"id", "_id",
	"data.id", "data._id",
	"blog.id", "blog._id",
	"result.id", "result._id",
}

var placeholderExpr = regexp.MustCompile(`\{\{\s*([\w.]+)\s*\}\}`)

// Resolve returns the string form of the first non-null value found at
// the dotted key path in sources. Only the identifier keys "id" and "_id"
// fall back to the common nesting locations. Unresolved keys yield "".
func Resolve(key string, sources ...payload.Object) string {
	for _, src := range sources {
		if v, ok := src.Lookup(key); ok && !v.IsNull() {
			return Stringify(v)
		}
	}
	if key != "id" && key != "_id" {
		return ""
	}
	for _, path := range idAliasPaths {
		for _, src := range sources {
			if v, ok := src.Lookup(path); ok && !v.IsNull() {
				return Stringify(v)
			}
		}
	}
	return ""
}

// Stringify renders a value for substitution into a command. Database id
// wrappers ({"$oid": "..."}) unwrap to their inner value; other objects
// and arrays render as compact JSON.
func Stringify(v payload.Value) string {
	switch v.Kind() {
	case payload.KindNull:
		return ""
	case payload.KindString:
		s, _ := v.Str()
		return s
	case payload.KindNumber:
		n, _ := v.Num()
		return n.String()
	case payload.KindBool:
		b, _ := v.Boolean()
		if b {
			return "true"
		}
		return "false"
	case payload.KindObject:
		obj, _ := v.Object()
		if inner, ok := obj["$oid"]; ok {
			return Stringify(inner)
		}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(out)
}

// Interpolate replaces every {{dotted.key}} in text with its resolved
// value.
func Interpolate(text string, sources ...payload.Object) string {
	return interpolate(text, func(s string) string { return s }, sources)
}

// interpolateJSON is Interpolate for text that sits inside a JSON
// document: substituted values are escaped as JSON string content.
func interpolateJSON(text string, sources ...payload.Object) string {
	return interpolate(text, jsonEscape, sources)
}

func interpolate(text string, escape func(string) string, sources []payload.Object) string {
	return placeholderExpr.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholderExpr.FindStringSubmatch(m)[1]
		return escape(Resolve(key, sources...))
	})
}

func jsonEscape(s string) string {
	out, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(out[1 : len(out)-1])
}

// interpolatePathParams replaces ":key" path segments of a URL. Segments
// that do not resolve are left as written.
func interpolatePathParams(rawURL string, sources ...payload.Object) string {
	schemeEnd := strings.Index(rawURL, "://")
	if schemeEnd == -1 {
		return rawURL
	}
	rest := rawURL[schemeEnd+3:]
	pathStart := strings.Index(rest, "/")
	if pathStart == -1 {
		return rawURL
	}
	prefix := rawURL[:schemeEnd+3] + rest[:pathStart]
	path, suffix := rest[pathStart:], ""
	if idx := strings.IndexAny(path, "?#"); idx != -1 {
		path, suffix = path[:idx], path[idx:]
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if len(seg) < 2 || seg[0] != ':' {
			continue
		}
		if resolved := Resolve(seg[1:], sources...); resolved != "" {
			segments[i] = url.PathEscape(resolved)
		}
	}
	return prefix + strings.Join(segments, "/") + suffix
}
