package conf

import "strings"

// Key is a closed enumeration of recognised configuration keys.
//
// Unrecognised keys encountered while parsing a config file or an
// #override: line are dropped with a warning rather than admitted into
// the store — see Configuration.
type Key int

const (
	KeyUnknown Key = iota
	KeyCrontabPath
	KeyTimezone
	KeyAlertEmailEnabled
	KeyAlertEmailAddressTo
	KeyAlertEmailAddressFrom
	KeyAlertEmailSMTPHost
	KeyAlertEmailSMTPPort
	KeyAlertMinutesDelayRepeat
	KeyAlertDowntime
	KeyTaskMaxInstanceCount
	KeyTaskCriticalReturnCode
	KeyTaskTimeoutMinutes
	KeySLAMinutesSinceSuccess
	KeySLACommentedExpressionAlertDelayMinutes
	KeySLAMalformedExpressionAlertDelayMinutes
	KeyCommandPathSu
	KeyCommandPathKill
)

type keyDef struct {
	rawName       string
	defaultValue  string
	allowOverride bool
}

// keyDefs is the canonical table from spec §6. Order here is cosmetic;
// lookup is by rawName.
var keyDefs = map[Key]keyDef{
	KeyCrontabPath:              {"crontab.path", "/etc/crontab", false},
	KeyTimezone:                 {"timezone", "UTC", false},
	KeyAlertEmailEnabled:        {"alert.email.enabled", "false", true},
	KeyAlertEmailAddressTo:      {"alert.email.address.to", "someone@example.com", false},
	KeyAlertEmailAddressFrom:    {"alert.email.address.from", "someone@example.com", false},
	KeyAlertEmailSMTPHost:       {"alert.email.smtp.host", "localhost", false},
	KeyAlertEmailSMTPPort:       {"alert.email.smtp.port", "25", false},
	KeyAlertMinutesDelayRepeat:  {"alert.minutes.delay.repeat", "20", true},
	KeyAlertDowntime:            {"alert.downtime", "", true},
	KeyTaskMaxInstanceCount:     {"task.max.instance.count", "1", true},
	KeyTaskCriticalReturnCode:   {"task.critical.return.code", "100", true},
	KeyTaskTimeoutMinutes:       {"task.timeout.minutes", "-1", true},
	KeySLAMinutesSinceSuccess:   {"sla.minutes.since.success", "60", true},
	KeySLACommentedExpressionAlertDelayMinutes: {"sla.commented.expression.alert.delay.minutes", "-1", true},
	KeySLAMalformedExpressionAlertDelayMinutes: {"sla.malformed.expression.alert.delay.minutes", "-1", true},
	KeyCommandPathSu:   {"command.path.su", "/usr/bin/su", false},
	KeyCommandPathKill: {"command.path.kill", "/usr/bin/kill", false},
}

// allKeys lists every recognised key except KeyUnknown, in the order
// printConfig-style diagnostics should use.
var allKeys = []Key{
	KeyCrontabPath,
	KeyTimezone,
	KeyAlertEmailEnabled,
	KeyAlertEmailAddressTo,
	KeyAlertEmailAddressFrom,
	KeyAlertEmailSMTPHost,
	KeyAlertEmailSMTPPort,
	KeyAlertMinutesDelayRepeat,
	KeyAlertDowntime,
	KeyTaskMaxInstanceCount,
	KeyTaskCriticalReturnCode,
	KeyTaskTimeoutMinutes,
	KeySLAMinutesSinceSuccess,
	KeySLACommentedExpressionAlertDelayMinutes,
	KeySLAMalformedExpressionAlertDelayMinutes,
	KeyCommandPathSu,
	KeyCommandPathKill,
}

// RawName returns the dotted config-file name for the key, e.g. "timezone".
func (k Key) RawName() string {
	if d, ok := keyDefs[k]; ok {
		return d.rawName
	}
	return ""
}

func (k Key) defaultValue() string {
	return keyDefs[k].defaultValue
}

// AllowOverride reports whether a crontab #override: line may set this key.
func (k Key) AllowOverride() bool {
	return keyDefs[k].allowOverride
}

func (k Key) String() string {
	if k == KeyUnknown {
		return "Unknown"
	}
	return k.RawName()
}

// KeyFromString resolves a raw config-file key name to a Key, matching
// case-insensitively after trimming whitespace. Returns KeyUnknown for
// anything not in the closed set.
func KeyFromString(raw string) Key {
	name := strings.ToLower(strings.TrimSpace(raw))
	for k, d := range keyDefs {
		if d.rawName == name {
			return k
		}
	}
	return KeyUnknown
}
