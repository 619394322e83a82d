package session

import (
	"fmt"
	"strings"
)

// ValidateRoute rejects routes that cannot be navigated to: relative paths,
// empty segments and segments that still carry a parameter placeholder or
// the rendering of a missing parameter, f.e. "/items/:id", "/items/{id}" or
// "/items/undefined". Query and fragment are not checked.
func ValidateRoute(route string) error {
	path := route
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q is not absolute", ErrMalformedRoute, route)
	}
	if path == "/" {
		return nil
	}
	for _, segment := range strings.Split(path[1:], "/") {
		switch {
		case segment == "":
			return fmt.Errorf("%w: %q has an empty segment", ErrMalformedRoute, route)
		case segment == "undefined", segment == "null":
			return fmt.Errorf("%w: %q references a missing parameter", ErrMalformedRoute, route)
		case strings.HasPrefix(segment, ":"),
			strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}"),
			strings.HasPrefix(segment, "[") && strings.HasSuffix(segment, "]"):
			return fmt.Errorf("%w: %q has an unresolved parameter %s", ErrMalformedRoute, route, segment)
		}
	}
	return nil
}
