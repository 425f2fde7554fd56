// Package usage measures tenant storage held outside the database.
//
// S3Meter sums the objects under <S3_TENANT_PREFIX><tenant id>/ and counts
// them as files.
package usage
