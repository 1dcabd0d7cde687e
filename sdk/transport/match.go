package transport

import "strings"

// Match reports whether topic matches the MQTT subscription filter, honouring
// the + and # wildcards.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}
	fparts := strings.Split(filter, "/")
	tparts := strings.Split(topic, "/")

	for i, f := range fparts {
		if f == "#" {
			return i == len(fparts)-1
		}
		if i >= len(tparts) {
			return false
		}
		if f != "+" && f != tparts[i] {
			return false
		}
	}
	return len(fparts) == len(tparts)
}
