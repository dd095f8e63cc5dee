package peal

type (
	// Program is the immutable, compiled representation of one DSP program.
	// Programs are produced by a Compiler and shared by any number of
	// Instances; a Program is never mutated after compilation. Close releases
	// the compiled code; the caller must guarantee that no Instance derived
	// from the Program is still alive when Close is called. That precondition
	// is a contract, it is not checked here.
	Program interface {
		// NewCore stamps out one voice worth of DSP computation, with its
		// runtime state initialized for the given sample rate. The first core
		// of an Instance owns the program's control zones; further voices are
		// created with Core.Fork so that all voices of an Instance share the
		// same zones.
		NewCore(sampleRate int) Core

		// NumInputs and NumOutputs tell how many audio channels one core
		// consumes and produces.
		NumInputs() int
		NumOutputs() int

		Close() error
	}

	// Core is one voice worth of compiled DSP computation. Cores are driven
	// by their owning Instance and should never be used directly by library
	// users.
	Core interface {
		// Compute advances the core by frames samples, in place: buf holds
		// the input channels on entry and the output channels on return.
		// Compute must not allocate, lock or do I/O.
		Compute(frames int, buf [][]float32)

		// NoteOn and NoteOff gate the core. For programs without any gated
		// units they are no-ops.
		NoteOn(note, velocity byte)
		NoteOff()

		// Fork returns a new core with fresh runtime state that shares the
		// control zones of the receiver.
		Fork() Core

		// BuildControls walks the control surface of the core once, in
		// declaration order, emitting one widget declaration per control and
		// any declared (zone, key, value) metadata. See WidgetDecl.
		BuildControls(d DeclSink, m MetaSink)

		// Reset returns the runtime state to what it was right after
		// NewCore/Fork, leaving zone values untouched.
		Reset()
	}

	// Compiler turns program source files into Programs. It is the external
	// collaborator of this package: the peal runtime never looks inside a
	// Program, it only stamps out cores from it. Save and Load serialize a
	// compiled Program to/from a directory; the format is owned entirely by
	// the Compiler and treated as opaque here.
	Compiler interface {
		Compile(path string, args []string) (Program, error)
		Save(p Program, dir string) error
		Load(dir string) (Program, error)
	}

	// Info is the static description of an Instance, answerable at any time
	// after creation.
	Info struct {
		SampleRate int
		NumInputs  int
		NumOutputs int
	}
)
