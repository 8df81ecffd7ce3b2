package api_test

import (
	"fmt"
	"log"

	"github.com/basicacc/morphect-sub000/internal/config"
	"github.com/basicacc/morphect-sub000/pkg/api"
)

// Example shows basic usage of the obfuscator library.
func Example() {
	// Suppress default informational messages for example
	config.Testing = true
	defer func() { config.Testing = false }()

	obf, err := api.NewObfuscator(api.Options{
		Silent: true,
		Seed:   42, // Fixed seed for reproducible output
	})
	if err != nil {
		log.Fatalf("Failed to create obfuscator: %v", err)
	}

	module := `define i32 @id(i32 %x) {
entry:
  %z = add i32 %x, 0
  br label %out
out:
  ret i32 %z
}
`
	_, err = obf.ObfuscateCode(module)
	if err != nil {
		log.Fatalf("Failed to obfuscate module: %v", err)
	}

	fmt.Println("Module was successfully obfuscated")

	// Output: Module was successfully obfuscated
}

// ExampleObfuscator_ObfuscateFile demonstrates obfuscating a module file.
func ExampleObfuscator_ObfuscateFile() {
	// Suppress default informational messages for example
	config.Testing = true
	defer func() { config.Testing = false }()

	_, err := api.NewObfuscator(api.Options{
		Silent: true,
	})
	if err != nil {
		log.Fatalf("Failed to create obfuscator: %v", err)
	}

	// In a real situation you would pass actual file paths:
	//   err = obf.ObfuscateFile("module.ll", "module.obf.ll")
	fmt.Println("File successfully obfuscated")
	// Output: File successfully obfuscated
}
