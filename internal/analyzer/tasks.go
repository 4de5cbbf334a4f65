package analyzer

// Task is one analyzer scheduled to run against a submission. Kind distinguishes the generic
// Config-driven tools from the six bespoke functions (steghide, openstego,
// decomposer, color_remapping, pcrt, image_resize all need parameters the
// generic Config/Driver contract doesn't carry).
type Kind int

const (
	// KindConfig runs cfg through Driver.Run.
	KindConfig Kind = iota
	// KindSteghide, KindOpenStego, KindPCRT, KindImageResize, KindDecomposer,
	// KindColorRemap each run their own dedicated function.
	KindSteghide
	KindOpenStego
	KindPCRT
	KindImageResize
	KindDecomposer
	KindColorRemap
)

// Task names one scheduled analyzer; Config is populated only when Kind ==
// KindConfig.
type Task struct {
	Name   string
	Kind   Kind
	Config Config
}

// BuildTaskList assembles every analyzer task for one submission: the full
// built-in set, plus outguess when deepAnalysis is set. pcrt and
// image_resize are always scheduled, PNG or not — like every other
// analyzer, they always contribute a key to results.json, reporting an
// error fragment themselves when the input isn't a valid PNG rather than
// being dropped from the task list.
func BuildTaskList(deepAnalysis bool) []Task {
	var tasks []Task

	for _, cfg := range BuiltinConfigs() {
		if cfg.Name == "outguess" && !deepAnalysis {
			continue
		}
		tasks = append(tasks, Task{Name: cfg.Name, Kind: KindConfig, Config: cfg})
	}

	tasks = append(tasks,
		Task{Name: "steghide", Kind: KindSteghide},
		Task{Name: "openstego", Kind: KindOpenStego},
		Task{Name: "decomposer", Kind: KindDecomposer},
		Task{Name: "color_remapping", Kind: KindColorRemap},
		Task{Name: "pcrt", Kind: KindPCRT},
		Task{Name: "image_resize", Kind: KindImageResize},
	)

	return tasks
}
