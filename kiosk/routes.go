package kiosk

func (s *Server) initRoutes() {
	login, callback := s.config.GetLoginPath(), s.config.GetCallbackPath()

	// Screens
	s.RegisterRouteHandler("GET "+RouteIndex+"{$}", ChainMiddleware(s.IndexHandler(), s.ScreenMiddleWare()...))
	s.RegisterRouteHandler("GET "+login, ChainMiddleware(s.LoginPageHandler(), s.ScreenMiddleWare()...))
	s.RegisterRouteHandler("GET "+callback, ChainMiddleware(s.OAuthCallbackHandler(), s.ScreenMiddleWare()...))
	s.RegisterRouteHandler("GET "+RouteAdmin, ChainMiddleware(s.AdminHandler(), s.ScreenMiddleWare(s.RequireSession)...))

	// Auth actions
	s.RegisterRouteHandler("POST "+RouteAuthLogin, ChainMiddleware(s.LoginSubmissionHandler(), s.HTMLMiddleWare()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.HTMLMiddleWare()...))

	// API
	s.RegisterRouteHandler("GET "+RouteAPISession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler(RouteAPIProxy, ChainMiddleware(s.ProxyHandler(), s.APIMiddleware()...))
}
