package db

// Schema describes one document shape the store can hold. Surfaced
// through the detailed node status so consumers know which DDO versions
// this node understands.
type Schema struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DDOSchemas lists the DDO versions supported by the store.
var DDOSchemas = []Schema{
	{Name: "op_ddo_v4.1.0", Version: "4.1.0"},
	{Name: "op_ddo_v4.3.0", Version: "4.3.0"},
	{Name: "op_ddo_v4.5.0", Version: "4.5.0"},
	{Name: "op_ddo_v4.7.0", Version: "4.7.0"},
}
