// Package apierr defines the normalized request failure shared by the HIVE
// transport and query cache, together with the pure classification helpers
// that decide its taxonomy code and whether it may be retried.
package apierr
