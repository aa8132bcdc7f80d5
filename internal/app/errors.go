package app

import "fmt"

// DomainError is the error shape the service layer hands back to the
// HTTP layer. Status picks the response code, Code is the stable
// machine-readable identifier clients switch on, and Message is safe to
// show to a user. Details, when set, carries structured context such as
// the document count blocking a project delete.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// domainError builds a *DomainError. Service methods return these for
// every expected failure; anything else that reaches mapError becomes a
// generic 500.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
