package training

import "strings"

// ClassOther is assigned to attack names outside the known taxonomy.
const ClassOther = "other"

var attackCategories = func() map[string]string {
	groups := map[string][]string{
		"dos": {
			"neptune", "smurf", "pod", "teardrop", "land", "back", "apache2",
			"mailbomb", "processtable", "udpstorm",
		},
		"probe": {
			"ipsweep", "nmap", "portsweep", "satan", "mscan", "saint",
		},
		"r2l": {
			"guesspasswd", "guess_passwd", "ftp_write", "imap", "phf", "multihop",
			"warezmaster", "warezclient", "spy", "xlock", "xsnoop", "snmpguess",
			"snmpgetattack", "httptunnel", "sendmail", "named", "worm",
		},
		"u2r": {
			"buffer_overflow", "loadmodule", "rootkit", "perl", "sqlattack", "xterm", "ps",
		},
	}
	m := map[string]string{"normal": "normal"}
	for category, names := range groups {
		for _, n := range names {
			m[n] = category
		}
	}
	return m
}()

// CategorizeAttack maps an NSL-KDD attack name to one of normal, dos,
// probe, r2l, u2r or other. Category names map to themselves.
func CategorizeAttack(name string) string {
	n := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
	if c, ok := attackCategories[n]; ok {
		return c
	}
	switch n {
	case "dos", "probe", "r2l", "u2r":
		return n
	}
	return ClassOther
}
