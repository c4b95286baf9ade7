// Package types holds the request and response models of the HTTP API. Every
// model validates itself against its schema through Validate(strfmt.Registry).
package types
