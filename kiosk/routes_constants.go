package kiosk

// Route path constants
// The login and callback screens are configurable and come from FlowConfig.
const (
	// Screens
	RouteIndex = "/"
	RouteAdmin = "/admin"

	// Auth actions
	RouteAuthLogin  = "/auth/login"
	RouteAuthLogout = "/auth/logout"

	// API routes
	RouteAPISession = "/api/session"
	RouteAPIProxy   = "/api/{path...}"
)

// HeaderNavigate tells the screen script where the kiosk wants to go after
// an API call ended the session.
const HeaderNavigate = "X-Kiosk-Navigate"

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"
)
