package backend

import "context"

// ContainerRuntime builds images and runs containers for docker workers.
type ContainerRuntime interface {
	// Build produces the image named in spec. Either Recipe (an inline
	// build file) or RecipeFile plus ContextDir is set.
	Build(ctx context.Context, spec BuildSpec) error

	// Run starts a container and waits for it to exit. A non-zero exit is
	// returned as an error.
	Run(ctx context.Context, spec RunSpec) (RunResult, error)

	// Capabilities reports what the runtime supports.
	Capabilities() Capabilities
}

// BuildSpec describes an image build.
type BuildSpec struct {
	Image string

	// Recipe is an inline build file streamed to the builder on stdin.
	Recipe string

	// RecipeFile and ContextDir are used when Recipe is empty.
	RecipeFile string
	ContextDir string

	// LogWriter, when set, receives each line of builder output.
	LogWriter func(line string)
}

// Volume binds a host directory into the container.
type Volume struct {
	Host      string
	Container string
}

// RunSpec describes one container run.
type RunSpec struct {
	Image string
	Name  string

	// Env holds KEY=VALUE pairs.
	Env     []string
	Volumes []Volume

	// Args replaces the image command when non-empty.
	Args []string

	// Interactive attaches the caller's terminal to the container.
	Interactive bool

	LogWriter func(line string)
}

// RunResult holds the outcome of a container run.
type RunResult struct {
	ExitCode   int
	DurationMS int
}

// Capabilities describes a container runtime.
type Capabilities struct {
	Name        string
	Interactive bool
}
