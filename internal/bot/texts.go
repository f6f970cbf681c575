package bot

// User-facing copy. Everything here is sent privately to the invoker.
const (
	textPong = "Pong! ✅"

	textNotEnrolledFull = "You're not enrolled. Use /join to start, then /settimezone and /settime."
	textNotEnrolledJoin = "You're not enrolled. Use /join first."
	textNotEnrolled     = "You're not enrolled."

	textJoined = "✅ You're in! I'll message you each day. Use /settimezone and /settime to customize."
	textLeft   = "✅ Unsubscribed. You can /join again anytime."

	textBadTime    = "Please provide time as HH:MM (24-hour)."
	textBadZone    = "That doesn't look like a valid timezone. Try something like America/Chicago."
	textBadCadence = "Use daily or weekly."
	textBadDay     = "Day must be one of mon..sun (or the full name)."

	textNoPermission = "You don't have permission to do that."

	// Saved but the trigger could not be installed; the member would
	// otherwise assume prompts are coming.
	textSavedNotScheduled = "⚠️ Your settings were saved, but I couldn't schedule your prompt. Please try the command again."

	textStoreFailed = "Sorry, something went wrong saving that. Please try again."

	textApprovedWelcome = "You've been added to the accountability check-in bot.\n" +
		"Use /settimezone and /settime to configure when I message you each day."

	defaultPromptText = "Good morning. How are you today? Reply here and I will post it to the group bulletin.\n\n" +
		"If you want to change the time I message you, use /settime HH:MM. To set your timezone, use /settimezone America/Chicago"
)
