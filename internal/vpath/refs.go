package vpath

import "strings"

// IsInternalResource reports whether a resource reference (href, src, css url)
// points inside the site. Absolute http(s), protocol-relative, data:, blob: and
// anything carrying another scheme stay untouched.
func IsInternalResource(ref string) bool {
	if ref == "" {
		return false
	}
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return false
	case strings.HasPrefix(ref, "data:"), strings.HasPrefix(ref, "blob:"):
		return false
	case strings.HasPrefix(ref, "//"):
		return false
	}
	if strings.Contains(ref, ":") && !strings.HasPrefix(ref, "./") && !strings.HasPrefix(ref, "../") {
		return false
	}
	return true
}

// IsInternalNavigation is the anchor flavour of IsInternalResource: fragment
// links count as internal, mailto: and tel: as external.
func IsInternalNavigation(href string) bool {
	if href == "" {
		return false
	}
	if strings.HasPrefix(href, "#") {
		return true
	}
	if strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
		return false
	}
	return IsInternalResource(href)
}

// BasePath returns the directory prefix of the index document, with a
// trailing slash, or "" for a root document.
func BasePath(indexPath string) string {
	i := strings.LastIndexByte(indexPath, '/')
	if i < 0 {
		return ""
	}
	return indexPath[:i+1]
}

// ResolveRef turns an internal reference found in a document under base into
// a logical site path.
func ResolveRef(ref, base string) string {
	clean := StripQuery(ref)
	clean = strings.TrimPrefix(clean, "./")

	switch {
	case strings.HasPrefix(clean, "../"):
		return resolveParent(base, clean)
	case strings.HasPrefix(clean, "/"):
		return clean[1:]
	default:
		return base + clean
	}
}

func resolveParent(base, rel string) string {
	stack := make([]string, 0, 8)
	for _, p := range strings.Split(base, "/") {
		if p != "" {
			stack = append(stack, p)
		}
	}
	for _, p := range strings.Split(rel, "/") {
		switch p {
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case ".":
		default:
			stack = append(stack, p)
		}
	}
	return strings.Join(stack, "/")
}

// ToVirtual rewrites an internal reference to its virtual URL.
func ToVirtual(ref, base, ns, siteID string) string {
	return Build(ns, siteID, ResolveRef(ref, base))
}
