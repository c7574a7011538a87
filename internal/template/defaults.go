package template

import "github.com/lalithlochan/nimbus-reminders/internal/domain"

// Builtin is the content used when no active template is stored for a pair.
type Builtin struct {
	Subject string
	Body    string
}

var builtins = map[domain.NotificationType]map[domain.ChannelType]Builtin{
	domain.TypeAppointmentReminder: {
		domain.ChannelEmail: {
			Subject: "Reminder: Appointment with {{doctorName}} on {{appointmentDate}}",
			Body: "Hello {{patientName}},\n\nThis is a reminder that you have an appointment scheduled:\n\n" +
				"Doctor: {{doctorName}}\nType: {{appointmentType}}\nDate & Time: {{appointmentDate}}\n" +
				"Location: {{location}}\n\nPlease arrive 10 minutes early.\n\nThank you!",
		},
		domain.ChannelSMS: {
			Body: "Hi {{patientName}}! Reminder: Appointment with {{doctorName}} on {{appointmentDate}} at {{location}}",
		},
		domain.ChannelInApp: {
			Subject: "Upcoming appointment",
			Body:    "Your {{appointmentType}} with {{doctorName}} is on {{appointmentDate}}.",
		},
	},
	domain.TypeAppointmentConfirmation: {
		domain.ChannelEmail: {
			Subject: "Appointment Confirmed - {{appointmentDate}}",
			Body: "Hello {{patientName}},\n\nYour appointment has been confirmed:\n\n" +
				"Doctor: {{doctorName}}\nType: {{appointmentType}}\nDate & Time: {{appointmentDate}}\n" +
				"Location: {{location}}\n\nSee you soon!",
		},
		domain.ChannelSMS: {
			Body: "Hi {{patientName}}! Your appointment with {{doctorName}} on {{appointmentDate}} is confirmed.",
		},
		domain.ChannelInApp: {
			Subject: "Appointment confirmed",
			Body:    "Your {{appointmentType}} with {{doctorName}} on {{appointmentDate}} is confirmed.",
		},
	},
}

// BuiltinFor returns the fallback content for a (type, channel) pair.
func BuiltinFor(nt domain.NotificationType, ch domain.ChannelType) (Builtin, bool) {
	byChannel, ok := builtins[nt]
	if !ok {
		return Builtin{}, false
	}
	b, ok := byChannel[ch]
	return b, ok
}
