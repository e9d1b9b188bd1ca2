package cli

import "fmt"

func PrintExtendedHelp() {
	fmt.Println(`Asit - allergen immunotherapy course tracker

Usage:
  asit [flags] <command> [args]

Commands:
  serve                      Run the HTTP API and reminder delivery
  status                     Show storage, courses and notification state
  today [date]               Show the status of every active course on a day
  confirm <course> [date]    Log the day's dose by repeating the last intake
  courses <subcommand>       Manage courses (list, add, show, pause, resume, complete, delete)
  reminders <subcommand>     Manage daily reminders (add, activate, delete)
  action <taken|snooze> ...  Replay a notification action
  notifications <sub>        Notification permission and schedule (status, grant, revoke)
  sync                       Reconcile scheduled reminders with the courses
  export <course> [dir]      Write a course to a JSON file
  import <file|dir>...       Add courses from exported JSON files
  catalog [medication]       List medications or show one medication's packages
  config <init|path|show>    Manage the configuration file
  token                      Print a bearer token for the API (needs server.jwt_secret)
  version                    Print the version

Flags:
  -config <path>   Path to config file (default <data>/asit.yaml)
  -data <dir>      Path to data directory

Dates are yyyy-mm-dd, "today" or "yesterday". Course and reminder ids may be
shortened to a unique prefix. Output is JSON when stdout is not a terminal.`)
}

func PrintCoursesHelp() {
	fmt.Println(`Usage: asit courses <subcommand>

  list                                   List all courses
  add <medication> <year> <start> <end>  Add a course; year is first..fifth or 1..5
  show <course>                          Show reminders and intakes
  pause <course>                         Stop reminders without ending the course
  resume <course>                        Resume a paused course
  complete <course>                      Mark the course completed
  delete <course>                        Delete the course with its intakes and reminders`)
}

func PrintRemindersHelp() {
	fmt.Println(`Usage: asit reminders <subcommand>

  add <course> <HH:MM>               Add a daily reminder
  activate <course> <reminder>       Make the reminder the course's scheduled one
  delete <course> <reminder>         Delete a reminder`)
}

func PrintNotificationsHelp() {
	fmt.Println(`Usage: asit notifications <subcommand>

  status   Show the permission and scheduled reminders
  grant    Allow reminders and schedule them
  revoke   Stop scheduling reminders`)
}

func PrintConfigHelp() {
	fmt.Println(`Usage: asit config <subcommand>

  init   Write the default configuration file
  path   Print the configuration file path
  show   Print the effective configuration`)
}

func PrintVersion() {
	fmt.Printf("Asit version %s\n", Version)
}
