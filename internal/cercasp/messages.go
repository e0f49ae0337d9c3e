package cercasp

// User-facing system messages.
const (
	MessageSuccess        = "Operación exitosa"
	MessageError          = "Ha ocurrido un error"
	MessageSessionExpired = "Tu sesión ha expirado. Por favor inicia sesión nuevamente."
	MessageUnauthorized   = "No tienes permisos para realizar esta acción"
	MessageOfflineMode    = "Modo sin conexión. Los cambios se sincronizarán cuando vuelvas a estar en línea."
)
