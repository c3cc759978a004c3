// Package main notifyhub API
//
//	@title			notifyhub API
//	@version		1.0
//	@description	Multi-device notification service: schedule tests, fan out notifications to every connected device of a user over WebSocket.
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT token (format: Bearer <token>)
package main
