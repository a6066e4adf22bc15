// Package media defines the closed set of media kinds and concrete file
// formats vert can convert between.
//
// Every Format belongs to exactly one Kind and has a canonical lowercase
// extension. Two formats may share an extension (jpg and jpeg both write
// ".jpg") but a format never changes kind. Lookups are pure and never fail
// for declared formats; ParseFormat and FormatFromPath reject anything else.
package media
