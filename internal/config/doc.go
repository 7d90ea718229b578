// Package config computes the effective spell-check settings for a document.
//
// Settings are built in layers, later layers overriding earlier ones:
//
//	1. Built-in defaults
//	2. Client settings (the "cSpell" section sent by the editor)
//	3. The file named by --config
//	4. The nearest cspell.json / cspell.yaml / cspell.toml above the document
//	5. CSPELL_* environment variables
//
// A Provider caches the result per document URI until Reset is called or
// the entry expires. A Watcher observes configuration files and reports
// changes so the caller can reset the provider and re-validate.
//
// # Basic Usage
//
//	p := config.NewProvider(config.WithWorkspaceFolders("/src/project"))
//	defer p.Close()
//
//	s, err := p.Get(ctx, "file:///src/project/README.md")
//	if err != nil {
//	    return err
//	}
//	if !s.Enabled {
//	    return nil
//	}
package config
