package model

// Role distinguishes the two marketplace sides of a chat session.
// A customer talks to providers; a provider talks to customers.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
)
