// Package flags persists the boolean configuration flags an instance keeps
// across restarts, such as whether wake is enabled.
//
// # Usage
//
//	store := flags.NewFileStore("/var/lib/pnpcoord/flags.toml")
//	f, err := flags.Load(ctx, store)
//	if err != nil {
//	    return err
//	}
//	if err := store.SetBool(ctx, flags.KeyWakeEnabled, true); err != nil {
//	    return err
//	}
//
// Writes to a FileStore go to a temp file that is then renamed over the
// original, so a crash never leaves a half-written file.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package flags
