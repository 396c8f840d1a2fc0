package classifier

// ModeInfo describes one chat mode for clients.
type ModeInfo struct {
	ID          Mode   `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Audience    string `json:"audience"`
}

var modes = []ModeInfo{
	{
		ID:          ModePolicy,
		Name:        "HR Policies & Procedures",
		Description: "Answers questions from the organization's policy documents.",
		Audience:    "All staff",
	},
	{
		ID:          ModeDataAnalysis,
		Name:        "Data Analysis & Metadata",
		Description: "Explains database tables, views and procedures and runs read-only queries.",
		Audience:    "Analysts and ETL developers",
	},
	{
		ID:          ModeAuto,
		Name:        "Smart Assistant (Auto-routing)",
		Description: "Routes each question to policies, database metadata, data queries or documentation.",
		Audience:    "Everyone",
	},
}

// Modes returns the supported modes in display order.
func Modes() []ModeInfo {
	out := make([]ModeInfo, len(modes))
	copy(out, modes)
	return out
}
