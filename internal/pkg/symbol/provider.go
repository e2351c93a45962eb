package symbol

// Provider is the device-data model the registry resolves against. Attribute
// values are returned per device row; a row of length one is a scalar
// attribute, longer rows are per-slot series.
type Provider interface {
	// Idx returns the ordered device identifiers of a group.
	Idx(group string) ([]string, error)

	// GetAttribute reads attr for the devices idx of group. A nil idx reads every device.
	GetAttribute(group, attr string, idx []string) ([][]float64, error)

	// SetAttribute writes one row per device in idx.
	SetAttribute(group, attr string, idx []string, value [][]float64) error

	// Ref reads a reference field (the idx of a device in another group).
	Ref(group, field string, idx []string) ([]string, error)

	// Matrix returns a named system matrix such as "PTDF" or "Cg".
	Matrix(name string) ([][]float64, error)

	// Version changes whenever any attribute or matrix changes.
	Version() uint64
}
