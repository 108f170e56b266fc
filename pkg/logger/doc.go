// Package logger provides structured logging for the storefront client.
//
// # Logger Interface
//
//	type Logger interface {
//	    Debug(msg string, fields ...interface{})
//	    Info(msg string, fields ...interface{})
//	    Warn(msg string, fields ...interface{})
//	    Error(msg string, fields ...interface{})
//	    SetLevel(level string)
//	    WithField(key string, value interface{}) Logger
//	    WithFields(fields map[string]interface{}) Logger
//	    With(fields ...Field) Logger
//	}
//
// # Structured Fields
//
// Fields may be passed as alternating key/value pairs, as Field values, or as a
// single map, which keeps call sites short in code that already builds a map
// for span attributes:
//
//	log.Info("Cart synchronized", "lines", 3, "total", "42.00")
//	log.Info("Order placed", map[string]interface{}{"order_id": id})
//
// # Output
//
// SimpleLogger writes one line per entry, either as human-readable text or as
// a JSON object. Level and format are normally taken from the storefront
// configuration (STOREFRONT_LOG_LEVEL, STOREFRONT_LOG_FORMAT).
//
// Never log bearer tokens or passwords.
package logger
