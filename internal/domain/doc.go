// Package domain models Maji Ndogo field survey data as an in-memory table and
// the column-level corrections applied to it.
//
// # Data Source
//
// Survey records live in a relational database split across feature tables
// (geographic, weather, soil and crop, farm management) keyed by Field_ID. The
// ingestion query joins them into one wide row per field. A separate CSV maps
// each Field_ID to the weather station that observed it.
//
// # Known Data Defects
//
// Column swap:
//
//	The survey export wrote Annual_yield values under Crop_type and vice
//	versa. The fix swaps the two column names, not their values, which needs
//	a temporary third name so the two renames never collide. See
//	[Table.SwapColumns] and [TempLabel].
//
// Elevation sign:
//
//	Some elevations were captured as negative numbers. Elevation is never
//	below sea level in the surveyed region, so the magnitude is kept and the
//	sign dropped. See [Table.AbsColumn].
//
// Crop type typos:
//
//	Free-text crop entry produced values like "cassaval", "wheatn" and
//	"teaa". A lookup table maps known typos to their canonical names; values
//	the table does not know pass through unchanged. See [Table.RemapValues].
//
// # Cells
//
// Cells are untyped. Ingestion produces int64, float64, string, bool,
// time.Time or nil depending on the driver. CSV parsing infers int64, float64
// or string per column and uses nil for empty fields.
package domain
