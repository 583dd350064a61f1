package core

import (
	"github.com/fatih/color"
	"github.com/spearlab/phishtrack/log"
)

const VERSION = "1.2.0"

func Banner() {
	cyan := color.New(color.FgCyan)
	white := color.New(color.FgHiWhite)
	gray := color.New(color.FgHiBlack)

	log.Printf("\n")
	log.Printf("%s\n", cyan.Sprint(`       _     _     _     _                  _    `))
	log.Printf("%s\n", cyan.Sprint(`  _ __| |__ (_)___| |__ | |_ _ __ __ _  ___| | __`))
	log.Printf("%s\n", cyan.Sprint(` | '_ \ '_ \| / __| '_ \| __| '__/ _`+"`"+` |/ __| |/ /`))
	log.Printf("%s\n", cyan.Sprint(` | |_) | | | | \__ \ | | | |_| | | (_| | (__|   < `))
	log.Printf("%s\n", cyan.Sprint(` | .__/|_| |_|_|___/_| |_|\__|_|  \__,_|\___|_|\_\`))
	log.Printf("%s\n", cyan.Sprint(` |_|`))
	log.Printf("\n")
	log.Printf(" %s %s\n", white.Sprint("phishtrack"), gray.Sprint("v"+VERSION))
	log.Printf(" %s\n\n", gray.Sprint("security awareness campaign tracker"))
}
