// internal/sandbox/languages.go
package sandbox

// Default environment variables, similar to go-judge
var defaultEnv = []string{"LANG=en_US.UTF-8", "LANGUAGE=en_US:en", "LC_ALL=en_US.UTF-8"}

// ConfigureDefaultLanguages adds default language configurations to the given config
func ConfigureDefaultLanguages(cfg *Config) {
	if cfg.Languages == nil {
		cfg.Languages = make(map[string]LanguageConfig)
	}

	// C++
	cpp := LanguageConfig{
		Name: "cpp",
		Compile: CompileConfig{
			Command: "g++ -o {{EXE_PATH}} {{SRC_PATH}} {{ARGS}}",
		},
		Run: RunConfig{Command: "{{EXE_PATH}}"},
	}
	cfg.Languages["cpp"] = cpp
	cfg.Languages["cc"] = cpp

	// C
	cfg.Languages["c"] = LanguageConfig{
		Name: "c",
		Compile: CompileConfig{
			Command: "gcc -o {{EXE_PATH}} {{SRC_PATH}} {{ARGS}}",
		},
		Run: RunConfig{Command: "{{EXE_PATH}}"},
	}

	// Go
	cfg.Languages["go"] = LanguageConfig{
		Name: "go",
		Compile: CompileConfig{
			Command:    "go build {{ARGS}} -o {{EXE_PATH}} {{SRC_PATH}}",
			TimeoutSec: 60,
		},
		Run: RunConfig{Command: "{{EXE_PATH}}"},
	}

	// Python 3, 不编译，直接运行
	cfg.Languages["py"] = LanguageConfig{
		Name: "py",
		Run:  RunConfig{Command: "python3 {{SRC_PATH}}"},
	}

	// JavaScript (Node.js)
	cfg.Languages["js"] = LanguageConfig{
		Name: "js",
		Run:  RunConfig{Command: "node {{SRC_PATH}}"},
	}

	// POSIX shell
	cfg.Languages["sh"] = LanguageConfig{
		Name: "sh",
		Run:  RunConfig{Command: "sh {{SRC_PATH}}"},
	}
}
