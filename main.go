package main

import "auto_blog_publisher/cmd"

func main() {
	cmd.Execute()
}
