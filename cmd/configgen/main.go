// configgen writes starter config files for escpd and escp-tm, and
// checks existing client profiles. Server configs are checked by the
// daemon itself with escpd -check.
package main

import (
	"flag"
	"log"

	"github.com/echosphere/escp/internal/config"
)

func main() {
	kind := flag.String("kind", "client", "config kind: server|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing client profile")
	input := flag.String("input", "", "config path for validation (defaults to the per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if *kind != "client" {
			log.Fatalf("validation handles client profiles only; run escpd -check for server configs")
		}
		path := *input
		if path == "" {
			path = "cmd/escp-tm/config.toml"
		}
		if _, err := config.LoadClientProfile(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "server":
			target = "cmd/escpd/config.toml"
		case "client":
			target = "cmd/escp-tm/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
