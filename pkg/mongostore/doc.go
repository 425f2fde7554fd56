// Package mongostore persists billing state in MongoDB.
//
// Collections:
//
//	billing_records  one document per tenant, _id is the tenant id
//	fingerprints     one document per payment instrument, _id is the fingerprint
//	users            tenant_id, email (lower case), name, role
//	patients         tenant_id, deleted_at
//	files            tenant_id, size
//
// Users, patients and files belong to the clinic application; this package
// only reads them.
package mongostore
