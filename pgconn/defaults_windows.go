package pgconn

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

func defaultSettings() map[string]string {
	settings := make(map[string]string)

	settings["host"] = defaultHost()
	settings["port"] = "5432"

	// Default to the OS user name. Purposely ignoring err getting user name from
	// OS. The client application will simply have to specify the user in that
	// case (which they typically will be doing anyway).
	userVar, err := user.Current()
	appData := os.Getenv("APPDATA")
	if err == nil {
		// Windows gives us the username here as `DOMAIN\user` or `LOCALPCNAME\user`,
		// but the libpq default is just the `user` portion, so we strip off the first part.
		username := userVar.Username
		if strings.Contains(username, "\\") {
			username = username[strings.LastIndex(username, "\\")+1:]
		}

		settings["user"] = username
		settings["passfile"] = filepath.Join(appData, "postgresql", "pgpass.conf")
		settings["servicefile"] = filepath.Join(userVar.HomeDir, ".pg_service.conf")
	}

	settings["target_session_attrs"] = "any"

	return settings
}

// defaultHost attempts to mimic libpq's default host. libpq uses the default unix socket location on *nix and localhost
// on Windows. The default socket location is compiled into libpq. Since pglynx does not have access to that default it
// checks the existence of common locations.
func defaultHost() string {
	return "localhost"
}
