package grimorium

import (
	"fmt"
	"strings"

	"magetools/internal/extract"
)

// UsageGuide returns the agent-facing instructions for the discovery flow.
// It is served verbatim to whatever front-end embeds the engine.
func (e *Engine) UsageGuide() string {
	return fmt.Sprintf(usageGuide, strings.Join(extract.AllowedImports(), ", "))
}

const usageGuide = `MAGETOOLS DISCOVERY FLOW

Spells are plain Go functions living under the discovery root, one grimorium
(collection) per directory. You never load them all; you search, then call.

1. discover_grimoriums(query)
   Find which grimoriums are relevant. Query by capability, not by name:
   "date arithmetic", "string templating", "json transformation".

2. discover_spells(grimorium_id, query)
   Search inside one grimorium for the spell you need. Each hit carries the
   spell's signature and documentation.

3. execute_spell(qualified_name, arguments)
   Call the spell by its qualified "grimorium.Spell" name with a map of
   named arguments, e.g. execute_spell("math.Add", {"a": 2, "b": 3}).
   Optional parameters may be omitted; omitted values take their default.

4. list_spells()
   Enumerate every spell you are permitted to call, when you already know
   what you are looking for.

Notes:
- A grimorium only loads if its directory carries an enabled manifest.json;
  results respect its whitelist and blacklist.
- Spell files may import only these packages: %s.
- A "spell not found" failure means exactly that, whether the spell never
  existed, is quarantined, or is outside your permissions.
`
