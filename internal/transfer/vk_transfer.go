package transfer

type VKTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	UserID           int64  `json:"user_id"`
	Email            string `json:"email"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type VKUserResponse struct {
	Response []VKUser `json:"response"`
}

type VKUser struct {
	ID         int64  `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	ScreenName string `json:"screen_name"`
	Photo      string `json:"photo_100"`
}

type VKWallPostResponse struct {
	Response *VKWallPost `json:"response"`
	Error    *VKError    `json:"error"`
}

type VKWallPost struct {
	PostID int64 `json:"post_id"`
}

type VKError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}
