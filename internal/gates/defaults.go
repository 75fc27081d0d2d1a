package gates

// Brownfield returns an applicability predicate for gates that only make
// sense when an existing system is being modified.
func Brownfield() func(Subject) bool {
	return func(s Subject) bool { return s.Brownfield }
}

// DefaultDefinitions is the standard story-completion gate battery.
// Regression and migration-compatibility checks run for brownfield
// projects only; greenfield runs omit them from the report entirely.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:       "definition-of-done",
			Capability: "validation-officer",
			Task:       "verify every definition-of-done item for the story",
		},
		{
			Name:       "acceptance-criteria",
			Capability: "validation-officer",
			Task:       "verify acceptance criteria against the implementation",
		},
		{
			Name:       "test-coverage",
			Capability: "test-runner",
			Task:       "run the test suite and report coverage",
		},
		{
			Name:       "security-scan",
			Capability: "security-scanner",
			Task:       "scan changed files for vulnerabilities and leaked secrets",
		},
		{
			Name:       "regression-suite",
			Capability: "test-runner",
			Task:       "run the existing-system regression suite",
			AppliesTo:  Brownfield(),
		},
		{
			Name:       "migration-compatibility",
			Capability: "migration-checker",
			Task:       "verify schema and API compatibility with the deployed system",
			AppliesTo:  Brownfield(),
		},
	}
}
