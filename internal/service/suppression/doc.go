// Package suppression decides whether an address may receive mail.
//
// Records are unique per (email, type, organization). A record without an
// organization is global and blocks the address for every organization.
// Dispatch paths must use BulkFilter; checking one address at a time is
// reserved for single triggered sends.
//
// The service layer depends only on the Repository interface in
// repository.go. It never imports net/http or database/sql.
package suppression
