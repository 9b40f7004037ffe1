package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are probe and scrape endpoints reachable without a token.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
	"/metrics":   true,
}

// AuthSkipper returns true for requests whose route is public.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is a public endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
